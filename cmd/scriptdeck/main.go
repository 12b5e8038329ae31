package main

import (
	"os"

	"github.com/tibame201020/opencv-custom-sub001/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
