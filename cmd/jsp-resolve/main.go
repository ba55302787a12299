package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	jspsupport "github.com/zedeste-cht/jsp-support-extension"
)

var appVersion = "dev"

// jsp-resolve performs a one-shot definition lookup from the command line:
// useful for scripting and for debugging resolver behavior outside an
// editor session.
func main() {
	filePath := flag.String("file", "", "Path to the template file (required)")
	line := flag.Int("line", 0, "0-based line of the cursor")
	char := flag.Int("char", 0, "0-based UTF-16 character of the cursor")
	workspace := flag.String("workspace", "", "Workspace root (defaults to the file's directory)")
	verbose := flag.Bool("v", false, "Enable debug logging")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(appVersion)
		return
	}
	if *filePath == "" {
		fmt.Fprintln(os.Stderr, "Error: -file is required")
		flag.Usage()
		os.Exit(2)
	}

	logLevel := slog.LevelWarn
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	absPath, err := filepath.Abs(*filePath)
	if err != nil {
		logger.Error("Cannot resolve file path", "path", *filePath, "error", err)
		os.Exit(1)
	}
	content, err := os.ReadFile(absPath)
	if err != nil {
		logger.Error("Cannot read file", "path", absPath, "error", err)
		os.Exit(1)
	}

	navigator, err := jspsupport.NewNavigator(logger)
	if navigator == nil {
		logger.Error("Failed to initialize Navigator service", "error", err)
		os.Exit(1)
	}
	defer navigator.Close()

	root := *workspace
	if root == "" {
		root = filepath.Dir(absPath)
	}
	navigator.SetWorkspace(jspsupport.DiscoverWorkspace(root, navigator.GetCurrentConfig(), logger))

	offset, err := jspsupport.LspPositionToByteOffset(content, jspsupport.Position{
		Line:      uint32(*line),
		Character: uint32(*char),
	})
	if err != nil {
		logger.Error("Invalid cursor position", "line", *line, "char", *char, "error", err)
		os.Exit(1)
	}

	uri, err := jspsupport.PathToURI(absPath)
	if err != nil {
		logger.Error("Cannot build document URI", "path", absPath, "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	location := navigator.ResolveDefinition(ctx, uri, string(content), 1, offset)
	if location == nil {
		fmt.Fprintln(os.Stderr, "No definition found")
		os.Exit(1)
	}

	fmt.Printf("%s:%d:%d\n", location.URI, location.Range.Start.Line+1, location.Range.Start.Character+1)
}
