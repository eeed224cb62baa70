package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"lv-tradecore/internal/auth"
)

// genhash prints the INTERNAL_TOKEN_HASH value for a token given as the
// first argument or on stdin.
func main() {
	token := ""
	if len(os.Args) > 1 {
		token = os.Args[1]
	} else {
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		token = strings.TrimSpace(line)
	}
	hash, err := auth.HashInternalToken(token)
	if err != nil {
		fmt.Fprintln(os.Stderr, "usage: genhash <token>")
		os.Exit(1)
	}
	fmt.Println(hash)
}
