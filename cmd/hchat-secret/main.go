// hchat-secret seals and opens encrypted attachment containers offline.
package main

import (
	"encoding/base64"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/novolei/HChat-sub000/internal/crypto"
)

func usage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  hchat-secret seal -in <file> -pass <passphrase> [-out <file>] [-chunk <bytes>]")
	fmt.Fprintln(os.Stderr, "  hchat-secret open -in <file> -pass <passphrase> [-out <file>]")
	fmt.Fprintln(os.Stderr, "  hchat-secret keygen")
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	switch os.Args[1] {
	case "seal":
		seal(os.Args[2:])
	case "open":
		open(os.Args[2:])
	case "keygen":
		keygen()
	default:
		usage()
	}
}

func seal(args []string) {
	fs := flag.NewFlagSet("seal", flag.ExitOnError)
	in := fs.String("in", "", "File to seal")
	out := fs.String("out", "", "Output container (default: <in>"+crypto.ContainerSuffix+")")
	pass := fs.String("pass", "", "Passphrase")
	chunk := fs.Int("chunk", crypto.DefaultChunkSize, "Chunk size in bytes")
	fs.Parse(args)

	if *in == "" || *pass == "" {
		usage()
	}
	if *out == "" {
		*out = *in + crypto.ContainerSuffix
	}

	h, err := crypto.EncryptFile(*in, *out, *pass, *chunk)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Seal failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Sealed %s -> %s (%d bytes, %d chunks)\n", *in, *out, h.FileSize, h.ChunkCount)
}

func open(args []string) {
	fs := flag.NewFlagSet("open", flag.ExitOnError)
	in := fs.String("in", "", "Container to open")
	out := fs.String("out", "", "Output file (default: container name without suffix)")
	pass := fs.String("pass", "", "Passphrase")
	fs.Parse(args)

	if *in == "" || *pass == "" {
		usage()
	}
	if *out == "" {
		trimmed := strings.TrimSuffix(*in, crypto.ContainerSuffix)
		if trimmed == *in {
			fmt.Fprintln(os.Stderr, "Cannot infer output name, pass -out")
			os.Exit(1)
		}
		*out = trimmed
	}

	h, err := crypto.DecryptFile(*in, *out, *pass)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Open failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Opened %s -> %s (%d bytes)\n", *in, *out, h.FileSize)
}

func keygen() {
	id, err := crypto.NewIdentity()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Keygen failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Device ID:  %s\n", id.DeviceID)
	fmt.Printf("Public key (base64): %s\n", base64.StdEncoding.EncodeToString(id.PublicKey))
}
