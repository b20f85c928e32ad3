package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	err := rootCmd.Execute()

	// PersistentPostRunE не вызывается, если команда вернула ошибку
	if globalCore != nil {
		if cerr := globalCore.Closer.Close(context.Background()); cerr != nil {
			fmt.Fprintln(os.Stderr, cerr)
		}
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
