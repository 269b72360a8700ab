// Package web holds the monitor page. The page is a single index.html that
// polls the JSON routes of the monitor (spaces, frames, TLB, stats, and
// progress) and draws them as tables.
//
// The page is embedded in the binary. Setting DevModeEnv serves it from the
// source tree instead, so that edits show up on reload. Setting DirEnv serves
// it from any directory.
package web

import (
	"embed"
	"io/fs"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
)

//go:embed dist/*
var dist embed.FS

const (
	// DevModeEnv serves the page from the source tree when set to a true
	// value.
	DevModeEnv = "NACHOSVM_MONITOR_DEV"

	// DirEnv serves the page from the named directory.
	DirEnv = "NACHOSVM_MONITOR_DIR"
)

// Assets returns the file system that the monitor serves at its root.
func Assets() http.FileSystem {
	if dir := assetDir(); dir != "" {
		log.Printf("monitor: serving pages from %s", dir)
		return http.Dir(dir)
	}

	sub, err := fs.Sub(dist, "dist")
	if err != nil {
		log.Panic(err)
	}

	return http.FS(sub)
}

func assetDir() string {
	if dir := os.Getenv(DirEnv); dir != "" {
		return dir
	}

	dev, _ := strconv.ParseBool(os.Getenv(DevModeEnv))
	if !dev {
		return ""
	}

	_, file, _, ok := runtime.Caller(0)
	if !ok {
		log.Panic("monitor: cannot locate the page sources")
	}

	return filepath.Join(filepath.Dir(file), "dist")
}
