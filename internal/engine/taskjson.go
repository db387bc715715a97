package engine

import (
	"encoding/json"

	"github.com/taskengine/taskengine/internal/richerr"
)

// wireStep is the on-disk shape of a step: a discriminated union
// keyed by "kind", carrying every variant's fields as optional. Tasks
// are authored as JSON documents and decoded through this type since
// Step itself is a closed Go interface with no natural JSON mapping.
type wireStep struct {
	Kind StepKind `json:"kind"`

	Message string `json:"message,omitempty"`
	Expr    string `json:"expr,omitempty"`
	Key     string `json:"key,omitempty"`

	Seconds int `json:"seconds,omitempty"`
	Minutes int `json:"minutes,omitempty"`
	Hours   int `json:"hours,omitempty"`
	Days    int `json:"days,omitempty"`

	Workflow string `json:"workflow,omitempty"`
	Prompt   string `json:"prompt,omitempty"`

	Cond string       `json:"cond,omitempty"`
	Then wireWorkflow `json:"then,omitempty"`
	Else wireWorkflow `json:"else,omitempty"`

	Cases []wireSwitchCase `json:"cases,omitempty"`

	In string       `json:"in,omitempty"`
	Do wireWorkflow `json:"do,omitempty"`

	Over        string       `json:"over,omitempty"`
	Map         wireWorkflow `json:"map,omitempty"`
	Reduce      string       `json:"reduce,omitempty"`
	Initial     any          `json:"initial,omitempty"`
	Parallelism int          `json:"parallelism,omitempty"`

	Template     string `json:"template,omitempty"`
	Unwrap       bool   `json:"unwrap,omitempty"`
	AutoRunTools bool   `json:"auto_run_tools,omitempty"`

	ToolRef string `json:"tool_ref,omitempty"`

	Branches []wireWorkflow `json:"branches,omitempty"`
}

type wireSwitchCase struct {
	Case string       `json:"case"`
	Then wireWorkflow `json:"then"`
}

// wireWorkflow is the JSON shape of a Workflow: an ordered list of
// wireStep. It converts to a Workflow via toWorkflow.
type wireWorkflow []wireStep

func (w wireWorkflow) toWorkflow() (Workflow, error) {
	wf := make(Workflow, 0, len(w))
	for i, ws := range w {
		step, err := ws.toStep()
		if err != nil {
			return nil, richerr.BadInput("decoding step %d: %s", i, err)
		}
		wf = append(wf, step)
	}
	return wf, nil
}

func (ws wireStep) toStep() (Step, error) {
	switch ws.Kind {
	case KindLog:
		return LogStep{Message: ws.Message}, nil
	case KindEvaluate:
		return EvaluateStep{Expr: ws.Expr}, nil
	case KindReturn:
		return ReturnStep{Expr: ws.Expr}, nil
	case KindSet:
		return SetStep{Key: ws.Key, Expr: ws.Expr}, nil
	case KindGet:
		return GetStep{Key: ws.Key}, nil
	case KindSleep:
		return SleepStep{Seconds: ws.Seconds, Minutes: ws.Minutes, Hours: ws.Hours, Days: ws.Days}, nil
	case KindError:
		return ErrorStep{Message: ws.Message}, nil
	case KindYield:
		return YieldStep{Workflow: ws.Workflow, Expr: ws.Expr}, nil
	case KindWaitForInput:
		return WaitForInputStep{Prompt: ws.Prompt}, nil
	case KindIfElse:
		then, err := ws.Then.toWorkflow()
		if err != nil {
			return nil, err
		}
		els, err := ws.Else.toWorkflow()
		if err != nil {
			return nil, err
		}
		return IfElseStep{Cond: ws.Cond, Then: then, Else: els}, nil
	case KindSwitch:
		cases := make([]SwitchCase, 0, len(ws.Cases))
		for _, c := range ws.Cases {
			then, err := c.Then.toWorkflow()
			if err != nil {
				return nil, err
			}
			cases = append(cases, SwitchCase{Case: c.Case, Then: then})
		}
		return SwitchStep{Cases: cases}, nil
	case KindForeach:
		do, err := ws.Do.toWorkflow()
		if err != nil {
			return nil, err
		}
		return ForeachStep{In: ws.In, Do: do}, nil
	case KindMapReduce:
		m, err := ws.Map.toWorkflow()
		if err != nil {
			return nil, err
		}
		return MapReduceStep{Over: ws.Over, Map: m, Reduce: ws.Reduce, Initial: ws.Initial, Parallelism: ws.Parallelism}, nil
	case KindPrompt:
		return PromptStep{Template: ws.Template, Unwrap: ws.Unwrap, AutoRunTools: ws.AutoRunTools}, nil
	case KindToolCall:
		return ToolCallStep{ToolRef: ws.ToolRef}, nil
	case KindParallel:
		branches := make([]Workflow, 0, len(ws.Branches))
		for _, b := range ws.Branches {
			wf, err := b.toWorkflow()
			if err != nil {
				return nil, err
			}
			branches = append(branches, wf)
		}
		return ParallelStep{Branches: branches}, nil
	default:
		return nil, richerr.BadInput("unknown step kind %q", ws.Kind)
	}
}

// wireTask is the on-disk shape of a Task: a task ID plus a map of
// named workflows.
type wireTask struct {
	TaskID    string                  `json:"task_id"`
	Workflows map[string]wireWorkflow `json:"workflows"`
}

// DecodeTask parses a JSON task definition into a Task.
func DecodeTask(data []byte) (Task, error) {
	var wt wireTask
	if err := json.Unmarshal(data, &wt); err != nil {
		return Task{}, richerr.BadInput("decoding task: %s", err)
	}
	if wt.TaskID == "" {
		return Task{}, richerr.BadInput("task is missing task_id")
	}
	workflows := make(map[string]Workflow, len(wt.Workflows))
	for name, wf := range wt.Workflows {
		decoded, err := wf.toWorkflow()
		if err != nil {
			return Task{}, richerr.BadInput("decoding workflow %q: %s", name, err)
		}
		workflows[name] = decoded
	}
	if _, ok := workflows["main"]; !ok {
		return Task{}, richerr.BadInput("task %q has no main workflow", wt.TaskID)
	}
	return Task{TaskID: wt.TaskID, Workflows: workflows}, nil
}
