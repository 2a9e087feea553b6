package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/rendis/flowlab/pkg/schema"
)

// Exit codes.
const (
	exitOK      = 0
	exitError   = 1
	exitOutcome = 2 // ran fine but the flowchart failed, paused, lost points or is invalid
)

// listFlag collects a repeated string flag.
type listFlag []string

func (l *listFlag) String() string     { return strings.Join(*l, ",") }
func (l *listFlag) Set(v string) error { *l = append(*l, v); return nil }

// parseValue reads a JSON literal, falling back to the raw string.
func parseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	return s
}

func parseVars(raw []string) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	vars := make(map[string]any, len(raw))
	for _, kv := range raw {
		name, val, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("-var %q: want name=value", kv)
		}
		vars[name] = parseValue(val)
	}
	return vars, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func fail(stderr io.Writer, format string, args ...any) int {
	fmt.Fprintf(stderr, "Error: "+format+"\n", args...)
	return exitError
}

// --- run ---

func cmdRun(ctx context.Context, cfg Config, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var inputs, vars listFlag
	fs.Var(&inputs, "input", "value for the next Input node (repeatable, JSON or raw string)")
	fs.Var(&vars, "var", "initial variable name=value (repeatable)")
	asJSON := fs.Bool("json", false, "print the full execute response as JSON")
	breakpoints := fs.Bool("breakpoints", false, "stop at breakpoints instead of running through them")
	historyLimit := fs.Int("history-limit", 0, "history entries kept in the state (0: default)")
	if err := fs.Parse(args); err != nil {
		return exitError
	}
	if fs.NArg() != 1 {
		return fail(stderr, "usage: flowlab run [flags] <flowchart.json|yaml>")
	}

	doc, err := loadFlowchart(fs.Arg(0))
	if err != nil {
		return fail(stderr, "%v", err)
	}
	variables, err := parseVars(vars)
	if err != nil {
		return fail(stderr, "%v", err)
	}
	values := make([]any, len(inputs))
	for i, in := range inputs {
		values[i] = parseValue(in)
	}

	a, err := openApp(ctx, cfg, storeMemory, stderr)
	if err != nil {
		return fail(stderr, "%v", err)
	}
	defer a.Close()

	resp, err := a.svc.Execute(ctx, &schema.ExecuteRequest{
		Flowchart: doc,
		Action:    schema.ActionRun,
		Variables: variables,
		Inputs:    values,
		Options:   &schema.ExecuteOptions{IgnoreBreakpoints: !*breakpoints, HistoryLimit: *historyLimit},
	})
	if err != nil {
		return fail(stderr, "%v", err)
	}

	if *asJSON {
		resp.State = nil
		if err := writeJSON(stdout, resp); err != nil {
			return fail(stderr, "%v", err)
		}
	} else {
		for _, line := range resp.Context.Output {
			fmt.Fprintln(stdout, line)
		}
	}

	switch {
	case resp.Error != nil:
		fmt.Fprintf(stderr, "failed: %v\n", resp.Error)
		return exitOutcome
	case resp.Paused:
		fmt.Fprintf(stderr, "paused before %s (%s)\n", resp.NextNodeID, resp.NextNodeKind)
		return exitOutcome
	}
	return exitOK
}

// --- grade ---

func cmdGrade(ctx context.Context, cfg Config, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("grade", flag.ContinueOnError)
	fs.SetOutput(stderr)
	asJSON := fs.Bool("json", false, "print the test session as JSON")
	labID := fs.String("lab", "", "grade against the stored testcases of this lab")
	define := fs.Bool("define", false, "store the fixture testcases under their lab before grading")
	if err := fs.Parse(args); err != nil {
		return exitError
	}
	if fs.NArg() < 1 || fs.NArg() > 2 {
		return fail(stderr, "usage: flowlab grade [flags] <flowchart> [testcases]")
	}

	doc, err := loadFlowchart(fs.Arg(0))
	if err != nil {
		return fail(stderr, "%v", err)
	}
	req := &schema.GradeRequest{Flowchart: doc, LabID: *labID}

	var fx *testcaseFixture
	if fs.NArg() == 2 {
		if fx, err = loadTestcases(fs.Arg(1)); err != nil {
			return fail(stderr, "%v", err)
		}
		if req.LabID == "" {
			req.LabID = fx.LabID
		}
	} else if req.LabID == "" {
		return fail(stderr, "either a testcases file or -lab is required")
	}

	// Stored labs live in the configured store; inline grading needs none.
	storeKind := storeMemory
	if fx == nil || *define {
		storeKind = ""
	}
	a, err := openApp(ctx, cfg, storeKind, stderr)
	if err != nil {
		return fail(stderr, "%v", err)
	}
	defer a.Close()

	if fx != nil {
		if *define {
			if req.LabID == "" {
				return fail(stderr, "-define needs a lab id (-lab or lab_id in the fixture)")
			}
			if _, err := a.svc.DefineTestcases(ctx, req.LabID, fx.Testcases); err != nil {
				return fail(stderr, "%v", err)
			}
		} else {
			req.Testcases = fx.Testcases
		}
	}

	session, err := a.svc.Grade(ctx, req)
	if err != nil {
		return fail(stderr, "%v", err)
	}

	if *asJSON {
		if err := writeJSON(stdout, session); err != nil {
			return fail(stderr, "%v", err)
		}
	} else {
		printSession(stdout, session)
	}
	if session.TotalScore < session.MaxScore {
		return exitOutcome
	}
	return exitOK
}

func printSession(w io.Writer, s *schema.TestSession) {
	for _, r := range s.Results {
		line := fmt.Sprintf("%-14s %-20s %g/%g", r.Status, r.TestcaseID, r.ScoreAwarded, r.MaxScore)
		if r.ErrorMessage != "" {
			line += "  " + r.ErrorMessage
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "score %g/%g (session %s)\n", s.TotalScore, s.MaxScore, s.ID)
}

// --- validate ---

func cmdValidate(ctx context.Context, cfg Config, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	testcases := fs.String("testcases", "", "also validate this testcase fixture")
	if err := fs.Parse(args); err != nil {
		return exitError
	}
	if fs.NArg() != 1 {
		return fail(stderr, "usage: flowlab validate [-testcases file] <flowchart>")
	}

	raw, err := readDocument(fs.Arg(0))
	if err != nil {
		return fail(stderr, "read flowchart: %v", err)
	}

	a, err := openApp(ctx, cfg, storeMemory, stderr)
	if err != nil {
		return fail(stderr, "%v", err)
	}
	defer a.Close()

	report := map[string]*schema.ValidationResult{"flowchart": a.svc.Validator().CheckJSON(raw)}
	if *testcases != "" {
		tcRaw, err := readDocument(*testcases)
		if err != nil {
			return fail(stderr, "read testcases: %v", err)
		}
		list, _, err := testcaseList(tcRaw)
		if err != nil {
			return fail(stderr, "testcases %s: %v", *testcases, err)
		}
		report["testcases"] = a.svc.Validator().CheckTestcasesJSON(list)
	}

	if err := writeJSON(stdout, report); err != nil {
		return fail(stderr, "%v", err)
	}
	for _, r := range report {
		if !r.Valid() {
			return exitOutcome
		}
	}
	return exitOK
}
