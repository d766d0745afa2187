//go:build mage

// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

// Package main provides build targets for the practicesync project using Mage.
//
// Usage:
//
//	mage build        Compile the practicesync binary to bin/
//	mage test:all     Run all tests
//	mage test:race    Run all tests with the race detector
//	mage test:cover   Write a coverage profile to bin/cover.out
//	mage lint         Run golangci-lint
//	mage clean        Remove build artifacts
//	mage install      Install practicesync to GOPATH/bin
//	mage stats        Print Go LOC and documentation word counts
package main

import (
	"os"
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	binGo      = "go"
	binaryName = "practicesync"
	binaryDir  = "bin"
	cmdDir     = "./cmd/practicesync"
	modulePath = "github.com/mesh-intelligence/practicesync"
)

// ldflags stamps the version of the current git tag, when there is one.
func ldflags() string {
	tag, err := sh.Output("git", "describe", "--tags", "--abbrev=0")
	if err != nil || tag == "" {
		return ""
	}
	return "-X " + modulePath + "/pkg/practicesync.Version=" + trimV(tag)
}

func trimV(tag string) string {
	if len(tag) > 1 && tag[0] == 'v' {
		return tag[1:]
	}
	return tag
}

// Build compiles the practicesync binary to bin/.
func Build() error {
	if err := os.MkdirAll(binaryDir, 0o755); err != nil {
		return err
	}
	args := []string{"build", "-v", "-o", filepath.Join(binaryDir, binaryName)}
	if flags := ldflags(); flags != "" {
		args = append(args, "-ldflags", flags)
	}
	return sh.RunV(binGo, append(args, cmdDir)...)
}

// Clean removes build artifacts.
func Clean() error {
	if err := os.RemoveAll(binaryDir); err != nil {
		return err
	}
	return sh.RunV(binGo, "clean")
}

// Install builds and copies the binary to GOPATH/bin.
func Install() error {
	mg.Deps(Build)
	gopath, err := sh.Output(binGo, "env", "GOPATH")
	if err != nil {
		return err
	}
	src := filepath.Join(binaryDir, binaryName)
	dst := filepath.Join(gopath, "bin", binaryName)
	return sh.Copy(dst, src)
}
