// Package model defines the entity types shared by every component of the
// job executor: tools, their parameter/target schemas, runs, and files.
// Types here carry no behavior beyond small invariant helpers — validation
// and lifecycle live in the owning components (catalog, planner,
// supervisor).
package model

import "time"

// ToolStatus enumerates the lifecycle of a Tool's dependency sandbox.
type ToolStatus string

const (
	ToolUninstalled ToolStatus = "UNINSTALLED"
	ToolInstalling  ToolStatus = "INSTALLING"
	ToolInstalled   ToolStatus = "INSTALLED"
	ToolUninstalling ToolStatus = "UNINSTALLING"
	ToolFailed      ToolStatus = "FAILED"
)

// ParamKind enumerates the supported ParamSpec value kinds.
type ParamKind string

const (
	ParamString ParamKind = "STR"
	ParamInt    ParamKind = "INT"
	ParamFloat  ParamKind = "FLOAT"
	ParamBool   ParamKind = "BOOL"
	ParamEnum   ParamKind = "ENUM"
	ParamFile   ParamKind = "FILE"
)

// ParamSpec describes one named, typed parameter a Tool accepts.
type ParamSpec struct {
	Name     string      `json:"name" bson:"name"`
	Kind     ParamKind   `json:"kind" bson:"kind"`
	Required bool        `json:"required" bson:"required"`
	Default  any         `json:"default,omitempty" bson:"default,omitempty"`
	Options  []string    `json:"options,omitempty" bson:"options,omitempty"`
	Multiple bool        `json:"multiple,omitempty" bson:"multiple,omitempty"`
}

// TargetSpec describes one output artifact a Tool's command is expected to
// produce relative to its working directory.
type TargetSpec struct {
	PathTemplate string `json:"path_template" bson:"path_template"`
	Kind         string `json:"kind" bson:"kind"`
	Required     bool   `json:"required" bson:"required"`
}

// SetupFile is a named file whose content is rendered per run from a
// template and written into the run's working directory before the child
// process is spawned.
type SetupFile struct {
	Name            string `json:"name" bson:"name"`
	ContentTemplate string `json:"content_template" bson:"content_template"`
}

// Tool is a registered, versioned command template plus its parameter
// schema, output targets, setup files, and optional dependency sandbox.
type Tool struct {
	ID                 string       `json:"id" bson:"_id"`
	Name               string       `json:"name" bson:"name"`
	NameLower          string       `json:"-" bson:"name_lower"`
	Version            string       `json:"version" bson:"version"`
	Description        string       `json:"description,omitempty" bson:"description,omitempty"`
	Tags               []string     `json:"tags,omitempty" bson:"tags,omitempty"`
	CommandTemplate    string       `json:"command_template" bson:"command_template"`
	Params             []ParamSpec  `json:"params" bson:"params"`
	Targets            []TargetSpec `json:"targets" bson:"targets"`
	SetupFiles         []SetupFile  `json:"setup_files,omitempty" bson:"setup_files,omitempty"`
	SandboxSpec        *SandboxSpec `json:"sandbox_spec,omitempty" bson:"sandbox_spec,omitempty"`
	PostInstallCommand string       `json:"post_install_command,omitempty" bson:"post_install_command,omitempty"`
	Status             ToolStatus   `json:"status" bson:"status"`
	PinnedManifest     string       `json:"pinned_manifest,omitempty" bson:"pinned_manifest,omitempty"`
	InstallationLog    string       `json:"installation_log,omitempty" bson:"installation_log,omitempty"`
	Enabled            bool         `json:"enabled" bson:"enabled"`
	RunCount           int64        `json:"run_count" bson:"run_count"`
	FavouritedCount    int64        `json:"favourited_count" bson:"favourited_count"`
	CreatedAt          time.Time    `json:"created_at" bson:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at" bson:"updated_at"`
}

// HasSandbox reports whether the tool declares a dependency sandbox.
func (t Tool) HasSandbox() bool { return t.SandboxSpec != nil }

// SandboxSpec is an opaque description of a tool's dependency sandbox: a
// channel/dependency mapping rendered into a manifest at install time.
type SandboxSpec struct {
	Channels     []string          `json:"channels,omitempty" bson:"channels,omitempty"`
	Dependencies []string          `json:"dependencies,omitempty" bson:"dependencies,omitempty"`
	PipPackages  []string          `json:"pip_packages,omitempty" bson:"pip_packages,omitempty"`
	Env          map[string]string `json:"env,omitempty" bson:"env,omitempty"`
}

// RunStatus enumerates the terminal/non-terminal states of a Run.
type RunStatus string

const (
	RunPending   RunStatus = "PENDING"
	RunRunning   RunStatus = "RUNNING"
	RunCompleted RunStatus = "COMPLETED"
	RunFailed    RunStatus = "FAILED"
	RunCancelled RunStatus = "CANCELLED"
)

// Terminal reports whether s is one of the absorbing terminal states.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunCancelled:
		return true
	default:
		return false
	}
}

// Run is one execution of a Tool with a resolved parameter bundle.
type Run struct {
	ID                string         `json:"id" bson:"_id"`
	ToolID            string         `json:"tool_id" bson:"tool_id"`
	OwnerID           string         `json:"owner_id" bson:"owner_id"`
	Tags              []string       `json:"tags,omitempty" bson:"tags,omitempty"`
	Params            map[string]any `json:"params" bson:"params"`
	InputFileIDs      []string       `json:"input_file_ids,omitempty" bson:"input_file_ids,omitempty"`
	Command           string         `json:"command" bson:"command"`
	PinnedManifest    string         `json:"pinned_manifest,omitempty" bson:"pinned_manifest,omitempty"`
	Status            RunStatus      `json:"status" bson:"status"`
	Stdout            string         `json:"stdout" bson:"stdout"`
	Error             string         `json:"error,omitempty" bson:"error,omitempty"`
	QueueJobHandle     string        `json:"queue_job_handle,omitempty" bson:"queue_job_handle,omitempty"`
	CreatedAt         time.Time      `json:"created_at" bson:"created_at"`
	StartedAt         *time.Time     `json:"started_at,omitempty" bson:"started_at,omitempty"`
	FinishedAt        *time.Time     `json:"finished_at,omitempty" bson:"finished_at,omitempty"`
	EmailOnCompletion bool           `json:"email_on_completion,omitempty" bson:"email_on_completion,omitempty"`
	Shared            bool           `json:"shared,omitempty" bson:"shared,omitempty"`
}

// AppendStdout appends a diagnostic or log line to the run's cumulative
// stdout buffer, preceded by a newline if the buffer is non-empty.
func (r *Run) AppendStdout(line string) {
	if r.Stdout == "" {
		r.Stdout = line
		return
	}
	r.Stdout += "\n" + line
}

// File is metadata for a blob stored in the content-addressed file area.
type File struct {
	ID        string    `json:"id" bson:"_id"`
	Name      string    `json:"name" bson:"name"`
	FileType  string    `json:"file_type" bson:"file_type"`
	Size      int64     `json:"size" bson:"size"`
	Location  string    `json:"location" bson:"location"`
	Checksum  string    `json:"checksum,omitempty" bson:"checksum,omitempty"`
	OwnerID   string    `json:"owner_id" bson:"owner_id"`
	RunID     *string   `json:"run_id,omitempty" bson:"run_id,omitempty"`
	Saved     bool      `json:"saved" bson:"saved"`
	ParentID  *string   `json:"parent_id,omitempty" bson:"parent_id,omitempty"`
	Tags      []string  `json:"tags,omitempty" bson:"tags,omitempty"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// JobKind enumerates the two kinds of work carried by the Job Queue.
type JobKind string

const (
	JobRun       JobKind = "RUN"
	JobSandboxOp JobKind = "SANDBOX_OP"
)

// SandboxOp enumerates the sandbox lifecycle operations a SANDBOX_OP job
// may carry.
type SandboxOp string

const (
	SandboxInstall   SandboxOp = "install"
	SandboxUninstall SandboxOp = "uninstall"
)

// Job is the small envelope carried by the queue. All heavy state is
// reachable by ID from the Run or Tool stores; the queue only needs to
// know what kind of work this is and which entity it targets.
type Job struct {
	Kind      JobKind   `json:"kind" bson:"kind"`
	ID        string    `json:"id" bson:"id"`
	Command   string    `json:"command,omitempty" bson:"command,omitempty"`
	SandboxOp SandboxOp `json:"sandbox_op,omitempty" bson:"sandbox_op,omitempty"`
}
