package cmd

import (
	"fmt"
	"io"
)

const banner = `
            _     _            _    
  ___ _   _| |__ | |_ __ _ ___| | __
 / __| | | | '_ \| __/ _` + "`" + ` / __| |/ /
 \__ \ |_| | |_) | || (_| \__ \   < 
 |___/\__,_|_.__/ \__\__,_|___/_|\_\
`

func printBanner(w io.Writer) {
	fmt.Fprintf(w, "\x1b[34m%s\x1b[0m\n", banner)
	fmt.Fprintf(w, "\x1b[32m  Accounts and Connections - Version %s\x1b[0m\n\n", Version)
}
