package planner

import (
	"context"
	"testing"
	"time"

	catalogmem "goa.design/toolrun/internal/catalog/memory"
	filestoremem "goa.design/toolrun/internal/filestore/memory"
	"goa.design/toolrun/internal/model"
	"goa.design/toolrun/internal/queue/memoryqueue"
	runstoremem "goa.design/toolrun/internal/runstore/memory"
	"goa.design/toolrun/internal/telemetry"
)

func newTestPlanner(t *testing.T) (*Planner, *catalogmem.Store) {
	t.Helper()
	tools := catalogmem.New()
	p := &Planner{
		Tools:  tools,
		Runs:   runstoremem.New(),
		Files:  filestoremem.New(),
		Queue:  memoryqueue.New(8),
		Logger: telemetry.NewNoopLogger(),
		NewID:  func() string { return "run-fixed" },
		Now:    func() time.Time { return time.Unix(0, 0) },
	}
	return p, tools
}

func echoTool() model.Tool {
	return model.Tool{
		Name:            "echo",
		CommandTemplate: "echo {{msg}} > out.txt",
		Params: []model.ParamSpec{
			{Name: "msg", Kind: model.ParamString, Required: true},
		},
		Enabled: true,
	}
}

// TestPlanEchoHappyPath mirrors the spec's canonical example: submitting
// msg="hello world" renders the single-quoted, sanitised command.
func TestPlanEchoHappyPath(t *testing.T) {
	p, tools := newTestPlanner(t)
	tool := echoTool()
	if err := tools.Create(context.Background(), &tool); err != nil {
		t.Fatalf("Create tool: %v", err)
	}

	run, err := p.Plan(context.Background(), Request{
		ToolID:  tool.ID,
		Params:  map[string]any{"msg": "hello world"},
		OwnerID: "user-1",
	})
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if got, want := run.Command, "echo 'hello_world' > out.txt"; got != want {
		t.Fatalf("run.Command = %q, want %q", got, want)
	}
	if run.Status != model.RunPending {
		t.Fatalf("run.Status = %q, want PENDING", run.Status)
	}
	if run.QueueJobHandle == "" {
		t.Fatal("expected a queue job handle to be recorded")
	}

	updated, err := tools.Get(context.Background(), tool.ID)
	if err != nil {
		t.Fatalf("Get tool: %v", err)
	}
	if updated.RunCount != 1 {
		t.Fatalf("tool.RunCount = %d, want 1", updated.RunCount)
	}
}

func TestPlanRejectsDisabledToolForNonAdmin(t *testing.T) {
	p, tools := newTestPlanner(t)
	tool := echoTool()
	tool.Enabled = false
	if err := tools.Create(context.Background(), &tool); err != nil {
		t.Fatalf("Create tool: %v", err)
	}

	_, err := p.Plan(context.Background(), Request{
		ToolID:  tool.ID,
		Params:  map[string]any{"msg": "hi"},
		OwnerID: "user-1",
	})
	if err == nil {
		t.Fatal("expected an error for a disabled tool")
	}
}

func TestPlanAllowsDisabledToolForAdmin(t *testing.T) {
	p, tools := newTestPlanner(t)
	tool := echoTool()
	tool.Enabled = false
	if err := tools.Create(context.Background(), &tool); err != nil {
		t.Fatalf("Create tool: %v", err)
	}

	_, err := p.Plan(context.Background(), Request{
		ToolID:  tool.ID,
		Params:  map[string]any{"msg": "hi"},
		OwnerID: "admin-1",
		IsAdmin: true,
	})
	if err != nil {
		t.Fatalf("Plan() error = %v, want nil for admin override", err)
	}
}

func TestPlanRejectsMissingRequiredParam(t *testing.T) {
	p, tools := newTestPlanner(t)
	tool := echoTool()
	if err := tools.Create(context.Background(), &tool); err != nil {
		t.Fatalf("Create tool: %v", err)
	}

	_, err := p.Plan(context.Background(), Request{
		ToolID:  tool.ID,
		Params:  map[string]any{},
		OwnerID: "user-1",
	})
	if err == nil {
		t.Fatal("expected an error for a missing required param")
	}
}

func TestPlanRejectsToolNotReadyWhenSandboxNotInstalled(t *testing.T) {
	p, tools := newTestPlanner(t)
	tool := echoTool()
	tool.SandboxSpec = &model.SandboxSpec{Dependencies: []string{"numpy"}}
	tool.Status = model.ToolUninstalled
	if err := tools.Create(context.Background(), &tool); err != nil {
		t.Fatalf("Create tool: %v", err)
	}

	_, err := p.Plan(context.Background(), Request{
		ToolID:  tool.ID,
		Params:  map[string]any{"msg": "hi"},
		OwnerID: "user-1",
	})
	if err == nil {
		t.Fatal("expected an error when the tool's sandbox is not installed")
	}
}

func TestPlanResolvesFileParamToBasenameInCommandAndParams(t *testing.T) {
	p, tools := newTestPlanner(t)
	files := p.Files.(*filestoremem.Store)
	if err := files.Create(context.Background(), &model.File{ID: "file-1", Name: "input.csv", OwnerID: "user-1"}); err != nil {
		t.Fatalf("Create file: %v", err)
	}

	tool := model.Tool{
		Name:            "process",
		CommandTemplate: "process {{data}}",
		Params: []model.ParamSpec{
			{Name: "data", Kind: model.ParamFile, Required: true},
		},
		Enabled: true,
	}
	if err := tools.Create(context.Background(), &tool); err != nil {
		t.Fatalf("Create tool: %v", err)
	}

	run, err := p.Plan(context.Background(), Request{
		ToolID:  tool.ID,
		Params:  map[string]any{"data": "file-1"},
		OwnerID: "user-1",
	})
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if got, want := run.Command, "process 'input.csv'"; got != want {
		t.Fatalf("run.Command = %q, want %q", got, want)
	}
	if got, want := run.Params["data"], "input.csv"; got != want {
		t.Fatalf("run.Params[data] = %v, want %q", got, want)
	}
	if len(run.InputFileIDs) != 1 || run.InputFileIDs[0] != "file-1" {
		t.Fatalf("run.InputFileIDs = %v, want [file-1]", run.InputFileIDs)
	}
}

func TestPlanRejectsFileParamNotOwnedByCaller(t *testing.T) {
	p, tools := newTestPlanner(t)
	files := p.Files.(*filestoremem.Store)
	if err := files.Create(context.Background(), &model.File{ID: "file-1", Name: "input.csv", OwnerID: "someone-else"}); err != nil {
		t.Fatalf("Create file: %v", err)
	}

	tool := model.Tool{
		Name:            "process",
		CommandTemplate: "process {{data}}",
		Params: []model.ParamSpec{
			{Name: "data", Kind: model.ParamFile, Required: true},
		},
		Enabled: true,
	}
	if err := tools.Create(context.Background(), &tool); err != nil {
		t.Fatalf("Create tool: %v", err)
	}

	_, err := p.Plan(context.Background(), Request{
		ToolID:  tool.ID,
		Params:  map[string]any{"data": "file-1"},
		OwnerID: "user-1",
	})
	if err == nil {
		t.Fatal("expected an error for a file owned by another caller")
	}
}

func TestPlanRejectsEnumValueNotInOptions(t *testing.T) {
	p, tools := newTestPlanner(t)
	tool := model.Tool{
		Name:            "convert",
		CommandTemplate: "convert --format {{fmt}}",
		Params: []model.ParamSpec{
			{Name: "fmt", Kind: model.ParamEnum, Required: true, Options: []string{"png", "jpg"}},
		},
		Enabled: true,
	}
	if err := tools.Create(context.Background(), &tool); err != nil {
		t.Fatalf("Create tool: %v", err)
	}

	_, err := p.Plan(context.Background(), Request{
		ToolID:  tool.ID,
		Params:  map[string]any{"fmt": "gif"},
		OwnerID: "user-1",
	})
	if err == nil {
		t.Fatal("expected an error for an enum value outside its options")
	}
}
