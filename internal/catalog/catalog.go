// Package catalog defines the persistence interface for Tool definitions
// and the invariants enforced on write, independent of storage backend.
// Two implementations ship: memory (tests, single-node) and mongo
// (production), both grounded on the same Store interface shape so the
// Planner, Supervisor, and Sandbox Manager never know which is in use.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"goa.design/toolrun/internal/model"
	"goa.design/toolrun/internal/toolerr"
)

// ErrNotFound is returned when a tool is not found in the store.
var ErrNotFound = errors.New("tool not found")

// Store is the persistence layer for Tool definitions. Implementations
// must be safe for concurrent use and must enforce case-insensitive name
// uniqueness on Create.
type Store interface {
	// Create inserts a new tool. Returns an error if the (case-insensitive)
	// name is already taken.
	Create(ctx context.Context, tool *model.Tool) error
	// Update replaces an existing tool's definition. Returns ErrNotFound if
	// the tool does not exist.
	Update(ctx context.Context, tool *model.Tool) error
	// Get retrieves a tool by ID. Returns ErrNotFound if it does not exist.
	Get(ctx context.Context, id string) (model.Tool, error)
	// GetByName retrieves a tool by case-insensitive name.
	GetByName(ctx context.Context, name string) (model.Tool, error)
	// Delete removes a tool by ID. Returns ErrNotFound if it does not
	// exist, or a FORBIDDEN toolerr.Error if the tool's sandbox is
	// mid-transition (invariant 5: INSTALLING/UNINSTALLING tools cannot be
	// deleted).
	Delete(ctx context.Context, id string) error
	// List returns all tools, optionally filtered by tag (tools must carry
	// every requested tag).
	List(ctx context.Context, tags []string) ([]model.Tool, error)
	// Search returns tools whose name, description, or tags match query
	// case-insensitively.
	Search(ctx context.Context, query string) ([]model.Tool, error)

	// SetSandboxStatus transitions a tool's sandbox status. This is the
	// only writer path for Tool.Status — API callers never set it
	// directly; only the Sandbox Manager and Supervisor (via this method)
	// drive it.
	SetSandboxStatus(ctx context.Context, id string, status model.ToolStatus, installationLog string) error
	// SetPinnedManifest records the manifest snapshot captured after a
	// successful sandbox install.
	SetPinnedManifest(ctx context.Context, id string, manifest string) error
	// IncrementRunCount atomically bumps the tool's run counter. Called by
	// the Planner on every successful dispatch (§4.B step 7).
	IncrementRunCount(ctx context.Context, id string) error
}

// Validate enforces the write-time invariants named in spec §4.A:
// ParamSpec constraints (ENUM requires options; FILE defaults to
// required) are normalised here so every Store implementation sees the
// same shape regardless of backend.
func Validate(tool *model.Tool) error {
	if strings.TrimSpace(tool.Name) == "" {
		return toolerr.New(toolerr.InvalidParam, "tool name is required")
	}
	if strings.TrimSpace(tool.CommandTemplate) == "" {
		return toolerr.New(toolerr.InvalidParam, "command_template is required")
	}
	seen := make(map[string]struct{}, len(tool.Params))
	for i := range tool.Params {
		p := &tool.Params[i]
		if p.Name == "" {
			return toolerr.New(toolerr.InvalidParam, "param name is required")
		}
		if _, dup := seen[p.Name]; dup {
			return toolerr.Errorf(toolerr.InvalidParam, "duplicate param name %q", p.Name)
		}
		seen[p.Name] = struct{}{}
		switch p.Kind {
		case model.ParamEnum:
			if len(p.Options) == 0 {
				return toolerr.Errorf(toolerr.InvalidParam, "param %q: ENUM requires options", p.Name)
			}
		case model.ParamFile:
			// A FILE param with no Default is always made required, even
			// if the caller set Required=false; one with a Default keeps
			// its Required flag as given.
			if p.Default == nil {
				p.Required = true
			}
		}
	}
	if tool.SandboxSpec != nil {
		if err := validateSandboxSpec(*tool.SandboxSpec); err != nil {
			return toolerr.Wrap(toolerr.InvalidParam, "sandbox_spec", err)
		}
	}
	tool.NameLower = strings.ToLower(tool.Name)
	return nil
}

// sandboxSpecSchemaDoc is the JSON Schema a Tool's sandbox_spec must
// satisfy, grounded on the teacher's validatePayloadJSONAgainstSchema
// (registry/service.go): decode a schema document once, compile it, and
// validate the candidate document against the compiled schema rather
// than hand-rolling shape checks.
const sandboxSpecSchemaDoc = `{
	"type": "object",
	"additionalProperties": false,
	"properties": {
		"channels": {"type": "array", "items": {"type": "string", "minLength": 1}},
		"dependencies": {"type": "array", "items": {"type": "string", "minLength": 1}},
		"pip_packages": {"type": "array", "items": {"type": "string", "minLength": 1}},
		"env": {"type": "object", "additionalProperties": {"type": "string"}}
	}
}`

var (
	sandboxSpecSchemaOnce sync.Once
	sandboxSpecSchema     *jsonschema.Schema
	sandboxSpecSchemaErr  error
)

func compiledSandboxSpecSchema() (*jsonschema.Schema, error) {
	sandboxSpecSchemaOnce.Do(func() {
		var doc any
		if err := json.Unmarshal([]byte(sandboxSpecSchemaDoc), &doc); err != nil {
			sandboxSpecSchemaErr = fmt.Errorf("unmarshal sandbox_spec schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("sandbox_spec.json", doc); err != nil {
			sandboxSpecSchemaErr = fmt.Errorf("add sandbox_spec schema resource: %w", err)
			return
		}
		sandboxSpecSchema, sandboxSpecSchemaErr = c.Compile("sandbox_spec.json")
	})
	return sandboxSpecSchema, sandboxSpecSchemaErr
}

// validateSandboxSpec round-trips spec through JSON and validates it
// against sandboxSpecSchemaDoc, catching malformed entries (empty
// dependency strings, non-string env values) before they ever reach the
// Sandbox Manager's manifest renderer.
func validateSandboxSpec(spec model.SandboxSpec) error {
	schema, err := compiledSandboxSpecSchema()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("marshal sandbox_spec: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("unmarshal sandbox_spec: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return err
	}
	return nil
}
