// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"

	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/canonical/mysql-router-operator/version"
)

type mainSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&mainSuite{})

func run(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := Main(context.Background(), append([]string{"mysqlrouteroperator"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func (s *mainSuite) TestVersion(c *gc.C) {
	code, stdout, _ := run("--version")
	c.Assert(code, gc.Equals, 0)
	c.Assert(stdout, gc.Equals, version.String()+"\n")
}

func (s *mainSuite) TestUnknownFlag(c *gc.C) {
	code, _, stderr := run("--frobnicate")
	c.Assert(code, gc.Equals, exitErr)
	c.Assert(stderr, jc.Contains, "frobnicate")
}

func (s *mainSuite) TestCheckConfig(c *gc.C) {
	path := filepath.Join(c.MkDir(), "agent.yaml")
	c.Assert(os.WriteFile(path, []byte(machineConfig), 0600), jc.ErrorIsNil)
	code, stdout, _ := run("--config", path, "--check")
	c.Assert(code, gc.Equals, 0)
	c.Assert(stdout, gc.Equals, path+": ok\n")
}

func (s *mainSuite) TestBadConfig(c *gc.C) {
	path := filepath.Join(c.MkDir(), "agent.yaml")
	c.Assert(os.WriteFile(path, []byte("unit-name: nope\n"), 0600), jc.ErrorIsNil)
	code, _, stderr := run("--config", path)
	c.Assert(code, gc.Equals, exitErr)
	c.Assert(stderr, jc.Contains, `unit name "nope" not valid`)
}
