//go:build linux

package main

import (
	"io"
	"os"
	"path/filepath"
	"strings"
)

// openJSONSink resolves --output-filename/--output-directory into the
// writer the JSON stream is rendered to: "stdout" and "none" are handled
// specially, anything else is created under --output-directory.
func openJSONSink(o *opts) (io.Writer, func(), error) {
	switch o.outputFilename {
	case "", "stdout":
		return os.Stdout, func() {}, nil
	case "none":
		return io.Discard, func() {}, nil
	default:
		path := o.outputFilename
		if !filepath.IsAbs(path) {
			path = filepath.Join(o.outputDirectory, path)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, nil, err
		}
		f, err := os.Create(path)
		if err != nil {
			return nil, nil, err
		}
		return f, func() { f.Close() }, nil
	}
}

// openErrorLog resolves the error log spec.md §6 describes: stderr in
// foreground mode, otherwise a "<prefix>.err" file beside the JSON output.
func openErrorLog(o *opts) (io.Writer, func(), error) {
	if o.foreground {
		return os.Stderr, func() {}, nil
	}

	prefix := "cgroupmon"
	dir := o.outputDirectory
	switch o.outputFilename {
	case "", "stdout", "none":
	default:
		jsonPath := o.outputFilename
		if !filepath.IsAbs(jsonPath) {
			jsonPath = filepath.Join(o.outputDirectory, jsonPath)
		}
		dir = filepath.Dir(jsonPath)
		base := filepath.Base(jsonPath)
		prefix = strings.TrimSuffix(base, filepath.Ext(base))
	}

	path := filepath.Join(dir, prefix+".err")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}
