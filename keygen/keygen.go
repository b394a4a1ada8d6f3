// Generates and checks the XTEA key used to obfuscate record ids, `store_config.uid_key` in cosmo.conf.
package main

import (
	"crypto/rand"
	"encoding/base64"
	"flag"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/xtea"
)

const uidKeyLength = 16

func main() {
	var key = flag.String("validate", "", "uid_key to validate")
	flag.Parse()

	if *key != "" {
		os.Exit(validate(os.Stdout, *key))
	}
	os.Exit(generate(os.Stdout, rand.Reader))
}

func generate(out io.Writer, src io.Reader) int {
	key := make([]byte, uidKeyLength)
	if _, err := io.ReadFull(src, key); err != nil {
		fmt.Fprintln(out, "Failed to generate key:", err)
		return 1
	}
	fmt.Fprintf(out, "\"uid_key\": %q\n", base64.StdEncoding.EncodeToString(key))
	return 0
}

func validate(out io.Writer, key string) int {
	raw, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		fmt.Fprintln(out, "INVALID: not base64:", err)
		return 1
	}
	if len(raw) != uidKeyLength {
		fmt.Fprintf(out, "INVALID: key must be %d bytes, got %d\n", uidKeyLength, len(raw))
		return 1
	}
	if _, err := xtea.NewCipher(raw); err != nil {
		fmt.Fprintln(out, "INVALID:", err)
		return 1
	}
	fmt.Fprintln(out, "Valid")
	return 0
}
