// Package gitsig is the thin git collaborator: it shells out to the git
// binary for HEAD-hash quick signatures and for machine-classified pulls.
// The core treats these as opaque operations; only the result codes and
// hashes feed the engine.
package gitsig

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrNotARepo reports that the given path is not inside a git work tree.
var ErrNotARepo = errors.New("not a git repository")

// PullResult classifies what a pull did, mirroring git's own behavior.
type PullResult string

const (
	ResultUpToDate    PullResult = "up_to_date"
	ResultFastForward PullResult = "fast_forward"
	ResultMerge       PullResult = "merge"
	ResultUpdated     PullResult = "updated"
	ResultNoUpstream  PullResult = "no_upstream"
)

// Summary is the machine-readable outcome of a pull.
type Summary struct {
	Result PullResult `json:"result"`
	Before string     `json:"before"`
	After  string     `json:"after"`
	Target string     `json:"target"`
}

func git(ctx context.Context, repo string, args ...string) (string, error) {
	full := append([]string{"-C", repo}, args...)
	cmd := exec.CommandContext(ctx, "git", full...)
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("git %s: %s", strings.Join(args, " "), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// EnsureRepo verifies the path is a git work tree.
func EnsureRepo(ctx context.Context, repo string) error {
	out, err := git(ctx, repo, "rev-parse", "--is-inside-work-tree")
	if err != nil || out != "true" {
		return fmt.Errorf("%w: %s", ErrNotARepo, repo)
	}
	return nil
}

// HeadHash returns the commit hash of HEAD. This is the repository's
// quick signature: two checkouts with equal HEAD hashes have identical
// committed content.
func HeadHash(ctx context.Context, repo string) (string, error) {
	return git(ctx, repo, "rev-parse", "HEAD")
}

func isAncestor(ctx context.Context, repo, anc, desc string) bool {
	cmd := exec.CommandContext(ctx, "git", "-C", repo, "merge-base", "--is-ancestor", anc, desc)
	return cmd.Run() == nil
}

func hasSecondParent(ctx context.Context, repo, ref string) bool {
	cmd := exec.CommandContext(ctx, "git", "-C", repo, "rev-parse", ref+"^2")
	return cmd.Run() == nil
}

// Pull fetches and pulls the current branch's upstream, classifying the
// outcome. A repo with no upstream returns ResultNoUpstream without
// error; the caller decides whether that is fatal.
func Pull(ctx context.Context, repo string) (Summary, error) {
	if err := EnsureRepo(ctx, repo); err != nil {
		return Summary{}, err
	}

	target, err := git(ctx, repo, "rev-parse", "--abbrev-ref", "--symbolic-full-name", "@{u}")
	if err != nil {
		return Summary{Result: ResultNoUpstream}, nil
	}

	before, err := HeadHash(ctx, repo)
	if err != nil {
		return Summary{}, err
	}
	sum := Summary{Before: before, Target: target}

	if _, err := git(ctx, repo, "fetch"); err != nil {
		return sum, fmt.Errorf("fetch: %w", err)
	}
	targetSHA, err := git(ctx, repo, "rev-parse", target)
	if err != nil {
		return sum, err
	}

	if before == targetSHA {
		sum.Result = ResultUpToDate
		sum.After = before
		return sum, nil
	}

	ffPossible := isAncestor(ctx, repo, before, targetSHA)

	if _, err := git(ctx, repo, "pull"); err != nil {
		return sum, err
	}

	after, err := HeadHash(ctx, repo)
	if err != nil {
		return sum, err
	}
	sum.After = after

	switch {
	case after == before:
		sum.Result = ResultUpToDate
	case ffPossible && after == targetSHA:
		sum.Result = ResultFastForward
	case hasSecondParent(ctx, repo, "HEAD"):
		sum.Result = ResultMerge
	default:
		sum.Result = ResultUpdated
	}
	return sum, nil
}
