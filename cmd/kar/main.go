// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Command kar packs, lists and extracts kar archives. Shader
// directories packed with it can be given to koru as shader_archive.
package main

import (
	"flag"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/devblok/vkframe/utility/kar"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/mmap"
	"golang.org/x/sync/errgroup"
)

const usage = `usage:
  kar pack [-author name] archive.kar dir
  kar list archive.kar
  kar extract archive.kar dir`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "pack":
		err = pack(os.Args[2:])
	case "list":
		err = list(os.Args[2:])
	case "extract":
		err = extract(os.Args[2:])
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		log.WithError(err).Fatal(os.Args[1])
	}
}

func pack(args []string) error {
	fs := flag.NewFlagSet("pack", flag.ExitOnError)
	author := fs.String("author", os.Getenv("USER"), "author recorded in the header")
	fs.Parse(args)
	if fs.NArg() != 2 {
		return errors.New(usage)
	}
	target, dir := fs.Arg(0), fs.Arg(1)

	builder, err := kar.NewBuilder(kar.Header{
		Author:      *author,
		DateCreated: time.Now().Unix(),
		Version:     1,
	})
	if err != nil {
		return err
	}
	defer builder.Close()

	var g errgroup.Group
	walkErr := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		name, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		name = filepath.ToSlash(name)
		g.Go(func() error {
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			return builder.Add(name, f)
		})
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	if walkErr != nil {
		return errors.Wrapf(walkErr, "walking %s", dir)
	}

	out, err := os.Create(target)
	if err != nil {
		return err
	}
	defer out.Close()

	written, err := builder.WriteTo(out)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"archive": target,
		"files":   builder.Len(),
		"bytes":   written,
	}).Info("packed")
	return out.Sync()
}

func open(path string) (*kar.Archive, *mmap.ReaderAt, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, nil, errors.Wrap(err, "mmap.Open()")
	}
	archive, err := kar.Open(r)
	if err != nil {
		r.Close()
		return nil, nil, err
	}
	return archive, r, nil
}

func list(args []string) error {
	if len(args) != 1 {
		return errors.New(usage)
	}
	archive, r, err := open(args[0])
	if err != nil {
		return err
	}
	defer r.Close()

	header := archive.Header()
	fmt.Printf("author %s, created %s, version %d\n",
		header.Author, time.Unix(header.DateCreated, 0).Format(time.RFC3339), header.Version)
	for _, e := range header.Index {
		fmt.Printf("%10d %10d  %s\n", e.Size, e.CompressedSize, e.Name)
	}
	return nil
}

func extract(args []string) error {
	if len(args) != 2 {
		return errors.New(usage)
	}
	archive, r, err := open(args[0])
	if err != nil {
		return err
	}
	defer r.Close()

	var g errgroup.Group
	for _, name := range archive.Names() {
		name := name
		g.Go(func() error {
			data, err := archive.ReadAll(name)
			if err != nil {
				return err
			}
			target := filepath.Join(args[1], filepath.FromSlash(name))
			if rel, err := filepath.Rel(args[1], target); err != nil || strings.HasPrefix(rel, "..") {
				return errors.Errorf("%s escapes %s", name, args[1])
			}
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			return ioutil.WriteFile(target, data, 0644)
		})
	}
	return g.Wait()
}
