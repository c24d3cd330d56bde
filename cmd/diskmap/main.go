// Copyright 2025 The diskmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Command diskmap demonstrates the multi-map: it opens (or creates) the
// named file, inserts a handful of key/value pairs and prints everything
// the map holds afterwards.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/thomasrebele/diskmap"
)

const initialSize = 420

func run(_ *cobra.Command, args []string) error {
	path := args[0]

	fmt.Printf("create a disk map with an initial size of %d bytes\n", initialSize)
	m, err := diskmap.Open(path, diskmap.WithInitialSize(initialSize))
	if err != nil {
		return err
	}
	defer func() {
		_ = m.Close()
	}()

	fmt.Println("inserting values")
	pairs := [][2]string{
		{"key0", "key0val0"},
		{"key0", "key0val1"},
		{"key0", "key0val2"},
		{"key1", "key1val0"},
		{"key1", "key1val1"},
		{"key2", "key2val0"},
	}
	for _, p := range pairs {
		if err := m.Insert(p[0], p[1]); err != nil {
			return err
		}
	}

	fmt.Println("reading values")
	it := m.Iter()
	for it.Next() {
		fmt.Printf("key %s\n", it.Key())
		for _, v := range it.Values() {
			fmt.Printf("\tval %s\n", v)
		}
	}

	if err := m.Close(); err != nil {
		return err
	}
	fmt.Println("done")
	return nil
}

func main() {
	root := &cobra.Command{
		Use:          "diskmap <file>",
		Short:        "demo for the memory-mapped multi-map",
		Args:         cobra.ExactArgs(1),
		RunE:         run,
		SilenceUsage: true,
	}
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
