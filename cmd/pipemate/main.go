// pipemate converts between editor block lists and workflow files without
// a running API.
//
//	pipemate convert [--in blocks.json] [--out ci.yml]
//	pipemate parse   [--in ci.yml] [--out blocks.json]
//
// Input defaults to stdin and output to stdout.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"pipemate/api/internal/logging"
	"pipemate/api/internal/workflow"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		printUsage(stderr)
		return errors.New("missing command")
	}
	command := args[0]

	var inPath, outPath, logLevel string
	flagSet := pflag.NewFlagSet("pipemate "+command, pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVarP(&inPath, "in", "i", "", "input file (default: stdin)")
	flagSet.StringVarP(&outPath, "out", "o", "", "output file (default: stdout)")
	flagSet.StringVar(&logLevel, "log-level", "WARN", "log level for conversion diagnostics")
	if err := flagSet.Parse(args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	logging.InitWithWriter(stderr, "pipemate", logLevel, true)

	input, err := readInput(inPath, stdin)
	if err != nil {
		return err
	}

	var output []byte
	switch command {
	case "convert":
		// Skipped blocks are logged by the decoder.
		doc, _, err := workflow.ConvertBlocks(input)
		if err != nil {
			return err
		}
		text, err := workflow.Encode(doc)
		if err != nil {
			return err
		}
		output = []byte(text)
	case "parse":
		blocks, err := workflow.ParseYAML(string(input))
		if err != nil {
			return err
		}
		output, err = json.MarshalIndent(blocks, "", "  ")
		if err != nil {
			return err
		}
		output = append(output, '\n')
	default:
		printUsage(stderr)
		return fmt.Errorf("unknown command %q", command)
	}

	if outPath == "" {
		_, err = stdout.Write(output)
		return err
	}
	return os.WriteFile(outPath, output, 0o644)
}

func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: pipemate convert|parse [--in FILE] [--out FILE]")
}
