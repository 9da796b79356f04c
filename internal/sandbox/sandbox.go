// Package sandbox implements the Sandbox Manager: it materialises and
// tears down per-tool dependency environments and pins the resolved
// environment snapshot after a successful install. Both operations run
// as SANDBOX_OP jobs dispatched by the Supervisor worker pool, never
// inline, and are serialised per tool by the caller holding the tool's
// INSTALLING/UNINSTALLING status as an implied exclusion lock.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"goa.design/toolrun/internal/catalog"
	"goa.design/toolrun/internal/model"
	"goa.design/toolrun/internal/telemetry"
)

// manifest is the YAML document rendered from a Tool's SandboxSpec and
// handed to the packaging tool, per spec §6 "Sandbox manifest".
type manifest struct {
	Channels     []string          `yaml:"channels,omitempty"`
	Dependencies []string          `yaml:"dependencies,omitempty"`
	Pip          *pipSection       `yaml:"pip,omitempty"`
	Env          map[string]string `yaml:"env,omitempty"`
}

type pipSection struct {
	Packages []string `yaml:"packages"`
}

// Manager creates and removes per-tool dependency sandboxes.
type Manager struct {
	Tools  catalog.Store
	Logger telemetry.Logger

	// Root is the directory under which every tool's sandbox directory is
	// created, named by tool ID.
	Root string

	// PackagingCommand runs the packaging tool against a rendered manifest
	// file to materialise (or refresh) the sandbox at dir. Defaults to
	// invoking `conda env update --prefix <dir> --file <manifestPath>`,
	// matching the channel/dependency manifest shape described in §6.
	PackagingCommand func(ctx context.Context, dir, manifestPath string) *exec.Cmd

	// ActivationPreamble returns the shell fragment that activates dir,
	// safe to prepend to any command joined by "&&". Defaults to
	// `source activate '<dir>'`.
	ActivationPreamble func(dir string) string

	// PinnedSnapshot captures a textual snapshot of the activated sandbox
	// for provenance (tool.pinned_manifest). Defaults to `conda list
	// --prefix <dir>`.
	PinnedSnapshot func(ctx context.Context, dir string) (string, error)
}

// Dir returns the stable per-tool sandbox path.
func (m *Manager) Dir(toolID string) string {
	return filepath.Join(m.Root, toolID)
}

// Preamble returns the activation shell fragment for tool's installed
// sandbox, safe to prepend to the rendered command joined by "&&" (spec
// §4.D.2 step 6). Callers are expected to only invoke this for tools
// with status=INSTALLED.
func (m *Manager) Preamble(toolID string) string {
	return m.activationPreamble(m.Dir(toolID))
}

// Install materialises tool's dependency sandbox. The caller must have
// already set tool.Status=INSTALLING before dispatching this as a
// SANDBOX_OP job (spec §4.E).
func (m *Manager) Install(ctx context.Context, toolID string) error {
	tool, err := m.Tools.Get(ctx, toolID)
	if err != nil {
		return fmt.Errorf("sandbox install: load tool: %w", err)
	}
	if !tool.HasSandbox() {
		return fmt.Errorf("sandbox install: tool %q has no sandbox_spec", toolID)
	}

	dir := m.Dir(toolID)
	var log strings.Builder

	manifestPath, cleanup, err := m.renderManifest(tool)
	if err != nil {
		m.fail(ctx, toolID, dir, fmt.Sprintf("render manifest: %v", err))
		return err
	}
	defer cleanup()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		m.fail(ctx, toolID, dir, fmt.Sprintf("create sandbox dir: %v", err))
		return err
	}

	cmd := m.packagingCommand(ctx, dir, manifestPath)
	out, err := runCaptured(cmd)
	log.WriteString(out)
	if err != nil {
		log.WriteString("\n\n--- packaging tool failed ---\n" + err.Error())
		m.fail(ctx, toolID, dir, log.String())
		return fmt.Errorf("sandbox install: packaging tool: %w", err)
	}

	if tool.PostInstallCommand != "" {
		preamble := m.activationPreamble(dir)
		composite := fmt.Sprintf("set -euo pipefail; %s && %s", preamble, tool.PostInstallCommand)
		postOut, err := runCaptured(exec.CommandContext(ctx, "/bin/bash", "-c", composite))
		log.WriteString("\n\n--- post_install_command ---\n" + postOut)
		if err != nil {
			log.WriteString("\n\n--- post_install_command failed ---\n" + err.Error())
			m.fail(ctx, toolID, dir, log.String())
			return fmt.Errorf("sandbox install: post_install_command: %w", err)
		}
	}

	snapshot, err := m.pinnedSnapshot(ctx, dir)
	if err != nil {
		log.WriteString("\n\n--- snapshot capture failed ---\n" + err.Error())
		m.fail(ctx, toolID, dir, log.String())
		return fmt.Errorf("sandbox install: snapshot: %w", err)
	}

	if err := m.Tools.SetPinnedManifest(ctx, toolID, snapshot); err != nil {
		return fmt.Errorf("sandbox install: persist pinned manifest: %w", err)
	}
	if err := m.Tools.SetSandboxStatus(ctx, toolID, model.ToolInstalled, log.String()); err != nil {
		return fmt.Errorf("sandbox install: persist status: %w", err)
	}
	return nil
}

// Uninstall removes tool's dependency sandbox. The caller must have
// already set tool.Status=UNINSTALLING before dispatching this job.
func (m *Manager) Uninstall(ctx context.Context, toolID string) error {
	dir := m.Dir(toolID)
	if err := os.RemoveAll(dir); err != nil {
		_ = m.Tools.SetSandboxStatus(ctx, toolID, model.ToolFailed, fmt.Sprintf("failed to remove sandbox directory: %v", err))
		return fmt.Errorf("sandbox uninstall: remove dir: %w", err)
	}
	if err := m.Tools.SetSandboxStatus(ctx, toolID, model.ToolUninstalled, ""); err != nil {
		return fmt.Errorf("sandbox uninstall: persist status: %w", err)
	}
	return nil
}

// fail removes any partial sandbox directory and marks the tool FAILED
// with the accumulated installation log, per spec §4.E "on any failure".
func (m *Manager) fail(ctx context.Context, toolID, dir, installLog string) {
	_ = os.RemoveAll(dir)
	if err := m.Tools.SetSandboxStatus(ctx, toolID, model.ToolFailed, installLog); err != nil && m.Logger != nil {
		m.Logger.Error(ctx, "failed to persist sandbox failure status", "tool_id", toolID, "error", err)
	}
}

// renderManifest expands the {{version}} macro and marshals the tool's
// SandboxSpec to a temporary YAML file.
func (m *Manager) renderManifest(tool model.Tool) (path string, cleanup func(), err error) {
	spec := tool.SandboxSpec
	doc := manifest{
		Channels: spec.Channels,
		Env:      spec.Env,
	}
	for _, dep := range spec.Dependencies {
		doc.Dependencies = append(doc.Dependencies, expandVersion(dep, tool.Version))
	}
	if len(spec.PipPackages) > 0 {
		pip := &pipSection{}
		for _, pkg := range spec.PipPackages {
			pip.Packages = append(pip.Packages, expandVersion(pkg, tool.Version))
		}
		doc.Pip = pip
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return "", func() {}, fmt.Errorf("marshal manifest: %w", err)
	}

	f, err := os.CreateTemp("", "toolrun-manifest-*.yaml")
	if err != nil {
		return "", func() {}, fmt.Errorf("create manifest file: %w", err)
	}
	if _, err := f.Write(out); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", func() {}, fmt.Errorf("write manifest file: %w", err)
	}
	f.Close()
	return f.Name(), func() { os.Remove(f.Name()) }, nil
}

// expandVersion substitutes the {{version}} macro if the tool declares a
// version, per spec §6.
func expandVersion(s, version string) string {
	if version == "" {
		return s
	}
	return strings.ReplaceAll(s, "{{version}}", version)
}

func (m *Manager) packagingCommand(ctx context.Context, dir, manifestPath string) *exec.Cmd {
	if m.PackagingCommand != nil {
		return m.PackagingCommand(ctx, dir, manifestPath)
	}
	return exec.CommandContext(ctx, "conda", "env", "update", "--prefix", dir, "--file", manifestPath)
}

func (m *Manager) activationPreamble(dir string) string {
	if m.ActivationPreamble != nil {
		return m.ActivationPreamble(dir)
	}
	return fmt.Sprintf("source activate '%s'", dir)
}

func (m *Manager) pinnedSnapshot(ctx context.Context, dir string) (string, error) {
	if m.PinnedSnapshot != nil {
		return m.PinnedSnapshot(ctx, dir)
	}
	cmd := exec.CommandContext(ctx, "conda", "list", "--prefix", dir)
	return runCaptured(cmd)
}

func runCaptured(cmd *exec.Cmd) (string, error) {
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	return buf.String(), err
}
