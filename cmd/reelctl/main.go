// Command reelctl runs the reel music pipeline from the terminal.
//
// Usage:
//
//	reelctl styles
//	reelctl probe <video>
//	reelctl process --video clip.mp4 --style epic --out result.mp4
//
// Configuration comes from the environment and an optional .env file,
// the same keys the web service reads.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
