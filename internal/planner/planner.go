package planner

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"goa.design/toolrun/internal/catalog"
	"goa.design/toolrun/internal/filestore"
	"goa.design/toolrun/internal/model"
	"goa.design/toolrun/internal/queue"
	"goa.design/toolrun/internal/runstore"
	"goa.design/toolrun/internal/telemetry"
	"goa.design/toolrun/internal/toolerr"
)

// Planner validates a user-supplied parameter bundle against a tool's
// declared schema, resolves and authorises FILE references, renders the
// final command, and dispatches the resulting Run onto the Queue.
type Planner struct {
	Tools  catalog.Store
	Runs   runstore.Store
	Files  filestore.Store
	Queue  queue.Queue
	Logger telemetry.Logger

	// NewID generates a unique identifier for a new Run. Overridable for
	// tests; when nil, ids are "run-<unix nanoseconds>".
	NewID func() string
	// Now returns the current time; overridable for tests.
	Now func() time.Time
}

// Request is the input to Plan: a resolved tool reference, the caller's
// raw parameter bundle, descriptive tags, and the acting principal.
type Request struct {
	ToolID  string
	Params  map[string]any
	Tags    []string
	OwnerID string
	IsAdmin bool
}

// Plan implements spec §4.B: validates params, stages FILE references,
// renders the command, persists a PENDING Run, and enqueues a RUN job.
func (p *Planner) Plan(ctx context.Context, req Request) (model.Run, error) {
	tool, err := p.Tools.Get(ctx, req.ToolID)
	if err != nil {
		return model.Run{}, toolerr.Wrap(toolerr.InvalidParam, "tool not found", err)
	}

	if !tool.Enabled && !req.IsAdmin {
		return model.Run{}, toolerr.New(toolerr.Forbidden, "tool is disabled")
	}
	if tool.HasSandbox() && tool.Status != model.ToolInstalled {
		return model.Run{}, toolerr.New(toolerr.ToolNotReady, "tool environment not available")
	}

	resolved := make(map[string]any, len(tool.Params))
	renderValues := make(map[string]any, len(tool.Params))
	var inputFileIDs []string

	for _, spec := range tool.Params {
		raw, present := req.Params[spec.Name]
		if !present || raw == nil {
			if spec.Required {
				return model.Run{}, toolerr.Errorf(toolerr.InvalidParam, "missing required param %q", spec.Name)
			}
			raw = spec.Default
		}

		switch spec.Kind {
		case model.ParamFile:
			ids, err := coerceStringList(raw)
			if err != nil {
				return model.Run{}, toolerr.Errorf(toolerr.InvalidParam, "param %q: %v", spec.Name, err)
			}
			if !spec.Multiple && len(ids) > 1 {
				return model.Run{}, toolerr.Errorf(toolerr.InvalidParam, "param %q: expected a single file", spec.Name)
			}
			if spec.Required && len(ids) == 0 {
				return model.Run{}, toolerr.Errorf(toolerr.InvalidParam, "missing required param %q", spec.Name)
			}
			basenames := make([]string, 0, len(ids))
			for _, id := range ids {
				f, err := p.Files.Get(ctx, id)
				if err != nil {
					return model.Run{}, toolerr.Wrap(toolerr.FileNotFound, fmt.Sprintf("file %q not found", id), err)
				}
				if f.OwnerID != req.OwnerID && !req.IsAdmin {
					return model.Run{}, toolerr.Errorf(toolerr.Forbidden, "file %q is not owned by caller", id)
				}
				inputFileIDs = append(inputFileIDs, f.ID)
				basenames = append(basenames, f.Name)
			}
			// Run.Params stores the basename(s), not the file ids: the
			// Supervisor re-renders path_template/content_template from
			// run.Params without looking the files up again (spec §4.D.2
			// steps 4-5). The ids themselves live in InputFileIDs.
			if spec.Multiple {
				resolved[spec.Name] = basenames
				renderValues[spec.Name] = basenames
			} else if len(basenames) == 1 {
				resolved[spec.Name] = basenames[0]
				renderValues[spec.Name] = basenames[0]
			} else {
				resolved[spec.Name] = ""
				renderValues[spec.Name] = ""
			}

		default:
			val, err := coerceScalar(spec.Kind, raw)
			if err != nil {
				return model.Run{}, toolerr.Errorf(toolerr.InvalidParam, "param %q: %v", spec.Name, err)
			}
			if spec.Kind == model.ParamEnum && !optionAllowed(spec.Options, val) {
				return model.Run{}, toolerr.Errorf(toolerr.InvalidParam, "param %q: value not in options", spec.Name)
			}
			resolved[spec.Name] = val
			renderValues[spec.Name] = val
		}
	}

	renderCtx, err := RenderContext(renderValues)
	if err != nil {
		return model.Run{}, toolerr.Wrap(toolerr.InvalidParam, "failed to render parameters", err)
	}
	command := Render(tool.CommandTemplate, renderCtx)

	now := p.now()
	run := model.Run{
		ID:             p.newID(),
		ToolID:         tool.ID,
		OwnerID:        req.OwnerID,
		Tags:           req.Tags,
		Params:         resolved,
		InputFileIDs:   inputFileIDs,
		Command:        command,
		PinnedManifest: tool.PinnedManifest,
		Status:         model.RunPending,
		CreatedAt:      now,
	}

	if err := p.Runs.Create(ctx, &run); err != nil {
		return model.Run{}, toolerr.Wrap(toolerr.Internal, "failed to persist run", err)
	}

	handle, err := p.Queue.Enqueue(ctx, model.Job{Kind: model.JobRun, ID: run.ID, Command: run.Command})
	if err != nil {
		return model.Run{}, toolerr.Wrap(toolerr.Internal, "failed to enqueue run", err)
	}
	run.QueueJobHandle = handle
	if err := p.Runs.Update(ctx, &run); err != nil {
		return model.Run{}, toolerr.Wrap(toolerr.Internal, "failed to persist queue handle", err)
	}

	if err := p.Tools.IncrementRunCount(ctx, tool.ID); err != nil && p.Logger != nil {
		p.Logger.Error(ctx, "failed to increment tool run count", "tool_id", tool.ID, "error", err)
	}

	return run, nil
}

func (p *Planner) newID() string {
	if p.NewID != nil {
		return p.NewID()
	}
	return fmt.Sprintf("run-%d", time.Now().UnixNano())
}

func (p *Planner) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// coerceScalar converts a decoded JSON value to the Go type implied by
// kind, validating along the way per spec §4.B step 2.
func coerceScalar(kind model.ParamKind, raw any) (any, error) {
	switch kind {
	case model.ParamString, model.ParamEnum:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected a string")
		}
		return s, nil
	case model.ParamBool:
		b, ok := raw.(bool)
		if !ok {
			return nil, fmt.Errorf("expected a boolean")
		}
		return b, nil
	case model.ParamInt:
		switch v := raw.(type) {
		case int:
			return v, nil
		case int64:
			return int(v), nil
		case float64:
			if v != float64(int64(v)) {
				return nil, fmt.Errorf("expected an integer")
			}
			return int(v), nil
		case string:
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("expected an integer")
			}
			return n, nil
		default:
			return nil, fmt.Errorf("expected an integer")
		}
	case model.ParamFloat:
		switch v := raw.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case string:
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("expected a float")
			}
			return f, nil
		default:
			return nil, fmt.Errorf("expected a float")
		}
	default:
		return nil, fmt.Errorf("unsupported param kind %q", kind)
	}
}

func optionAllowed(options []string, val any) bool {
	s, ok := val.(string)
	if !ok {
		return false
	}
	for _, o := range options {
		if o == s {
			return true
		}
	}
	return false
}

// coerceStringList normalises a FILE param's raw value (a single id or a
// list of ids) into a string slice.
func coerceStringList(raw any) ([]string, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{v}, nil
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected a file id string")
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a file id or list of file ids")
	}
}
