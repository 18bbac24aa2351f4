// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package proctcp

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/DataDog/connbeat-agent/pkg/network"
	"github.com/DataDog/connbeat-agent/pkg/util/log"
)

// Source produces socket table snapshots for one address family
type Source interface {
	// Name identifies the source in logs and is the key previous snapshots
	// are tracked under
	Name() string
	Family() network.ConnectionFamily
	Read(ctx context.Context) (Table, error)
}

// FileSource reads a socket table file, by default the live kernel table
type FileSource struct {
	name   string
	path   string
	family network.ConnectionFamily
	// a missing file reads as an empty table, e.g. tcp6 on hosts without IPv6
	optional bool
}

// NewFileSource returns a source reading path
func NewFileSource(name, path string, family network.ConnectionFamily, optional bool) *FileSource {
	return &FileSource{name: name, path: path, family: family, optional: optional}
}

// Name implements Source
func (s *FileSource) Name() string { return s.name }

// Family implements Source
func (s *FileSource) Family() network.ConnectionFamily { return s.family }

// Path returns the file the source reads
func (s *FileSource) Path() string { return s.path }

// Read implements Source
func (s *FileSource) Read(ctx context.Context) (Table, error) {
	if err := ctx.Err(); err != nil {
		return Table{}, err
	}

	f, err := os.Open(s.path)
	if err != nil {
		if s.optional && errors.Is(err, fs.ErrNotExist) {
			log.Tracef("socket table %s does not exist, reading it as empty", s.path)
			return Table{}, nil
		}
		return Table{}, fmt.Errorf("opening socket table %s: %w", s.path, err)
	}
	defer f.Close()

	return Parse(f, s.family)
}

// StaticSource serves a fixed in-memory snapshot
type StaticSource struct {
	name   string
	family network.ConnectionFamily
	data   []byte
}

// NewStaticSource returns a source always serving data
func NewStaticSource(name string, family network.ConnectionFamily, data []byte) *StaticSource {
	return &StaticSource{name: name, family: family, data: data}
}

// Name implements Source
func (s *StaticSource) Name() string { return s.name }

// Family implements Source
func (s *StaticSource) Family() network.ConnectionFamily { return s.family }

// Read implements Source
func (s *StaticSource) Read(ctx context.Context) (Table, error) {
	if err := ctx.Err(); err != nil {
		return Table{}, err
	}
	return ParseBytes(s.data, s.family)
}

// TablePaths holds explicit overrides of the host socket tables
type TablePaths struct {
	TCP  string
	TCP6 string
}

// HostSources returns the sources of the host network namespace. Empty
// overrides fall back to the tables under procRoot.
func HostSources(procRoot string, overrides TablePaths) []Source {
	tcp, tcp6 := overrides.TCP, overrides.TCP6
	if tcp == "" {
		tcp = filepath.Join(procRoot, "net", "tcp")
	}
	if tcp6 == "" {
		tcp6 = filepath.Join(procRoot, "net", "tcp6")
	}
	return []Source{
		NewFileSource("host/tcp", tcp, network.AFINET, false),
		NewFileSource("host/tcp6", tcp6, network.AFINET6, true),
	}
}

// NamespaceSources returns the sources of the network namespace pid lives
// in, read through <procRoot>/<pid>/net
func NamespaceSources(procRoot, name string, pid int) []Source {
	dir := filepath.Join(procRoot, strconv.Itoa(pid), "net")
	return []Source{
		NewFileSource(name+"/tcp", filepath.Join(dir, "tcp"), network.AFINET, true),
		NewFileSource(name+"/tcp6", filepath.Join(dir, "tcp6"), network.AFINET6, true),
	}
}
