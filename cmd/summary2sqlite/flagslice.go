package main

import "strings"

// flagSlice collects a flag that may be passed more than once.
type flagSlice []string

func (i *flagSlice) String() string {
	return strings.Join(*i, ",")
}

func (i *flagSlice) Set(value string) error {
	*i = append(*i, value)
	return nil
}
