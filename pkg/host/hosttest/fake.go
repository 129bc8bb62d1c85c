// Package hosttest provides an in-memory host.Remote for tests.
//
// FakeRemote unwraps the sudo and bash layers added by the privilege wrapper,
// records every script it receives and emulates the handful of file and user
// commands the provisioning code issues. Anything else succeeds silently
// unless a handler was registered for it.
package hosttest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/onepush/onepush/pkg/host"
)

const (
	sudoPrefix = "/usr/bin/sudo -k -n -H "
	bashPrefix = "/bin/bash -c "
	pipefail   = "set -o pipefail && "
)

// Call is one recorded interaction.
type Call struct {
	// Kind is "execute", "test", "capture", "upload" or "download".
	Kind string
	// Raw is the command line as received.
	Raw string
	// Script is Raw with the sudo and bash wrappers removed.
	Script string
	// Escalated is true when Raw was wrapped in sudo.
	Escalated bool
	// Shell is true when Raw was wrapped in bash -c.
	Shell bool
}

// Response is a scripted command result.
type Response struct {
	Stdout string
	Exit   int
	// Err simulates a transport failure.
	Err error
}

// Handler answers a script. ok=false passes the script on.
type Handler func(script string) (resp Response, ok bool)

// ExitError is returned by Execute and raising Capture for non-zero exits.
type ExitError struct {
	Script string
	Status int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command exited with code %d: %s", e.Status, e.Script)
}

// FakeRemote is a scripted host.Remote.
type FakeRemote struct {
	mu sync.Mutex

	// Files maps absolute paths to contents.
	Files map[string][]byte
	// Dirs is the set of existing directories.
	Dirs map[string]bool
	// Links maps symlink paths to targets.
	Links map[string]string
	// Owners records the last chown spec applied to a path.
	Owners map[string]string
	// Modes records the last chmod spec applied to a path.
	Modes map[string]string
	// Users is the set of existing accounts.
	Users map[string]bool

	handlers []Handler
	calls    []Call
	tmpSeq   int
}

// New returns an empty fake host.
func New() *FakeRemote {
	return &FakeRemote{
		Files:  make(map[string][]byte),
		Dirs:   make(map[string]bool),
		Links:  make(map[string]string),
		Owners: make(map[string]string),
		Modes:  make(map[string]string),
		Users:  map[string]bool{"root": true},
	}
}

// AddFile creates a file.
func (r *FakeRemote) AddFile(p string, content string) *FakeRemote {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Files[p] = []byte(content)
	return r
}

// File returns a file's contents.
func (r *FakeRemote) File(p string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.Files[p]
	return string(b), ok
}

// On answers every script starting with prefix with resp. Later
// registrations take precedence.
func (r *FakeRemote) On(prefix string, resp Response) *FakeRemote {
	return r.OnFunc(func(script string) (Response, bool) {
		if strings.HasPrefix(script, prefix) {
			return resp, true
		}
		return Response{}, false
	})
}

// OnFunc registers a handler. Later registrations take precedence.
func (r *FakeRemote) OnFunc(h Handler) *FakeRemote {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, h)
	return r
}

// Calls returns every recorded call.
func (r *FakeRemote) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// Scripts returns the unwrapped scripts of every command call.
func (r *FakeRemote) Scripts() []string {
	var out []string
	for _, c := range r.Calls() {
		if c.Kind == "upload" || c.Kind == "download" {
			continue
		}
		out = append(out, c.Script)
	}
	return out
}

// Count returns how many command scripts contain substr.
func (r *FakeRemote) Count(substr string) int {
	n := 0
	for _, s := range r.Scripts() {
		if strings.Contains(s, substr) {
			n++
		}
	}
	return n
}

// Ran reports whether any command script contains substr.
func (r *FakeRemote) Ran(substr string) bool {
	return r.Count(substr) > 0
}

// Execute implements host.Remote.
func (r *FakeRemote) Execute(ctx context.Context, cmd string) error {
	resp := r.run(ctx, "execute", cmd)
	if resp.Err != nil {
		return resp.Err
	}
	if resp.Exit != 0 {
		return &ExitError{Script: cmd, Status: resp.Exit}
	}
	return nil
}

// Test implements host.Remote.
func (r *FakeRemote) Test(ctx context.Context, cmd string) (bool, error) {
	resp := r.run(ctx, "test", cmd)
	if resp.Err != nil {
		return false, resp.Err
	}
	return resp.Exit == 0, nil
}

// Capture implements host.Remote.
func (r *FakeRemote) Capture(ctx context.Context, cmd string, opts host.CaptureOptions) (string, error) {
	resp := r.run(ctx, "capture", cmd)
	if resp.Err != nil {
		return "", resp.Err
	}
	if resp.Exit != 0 && opts.RaiseOnNonZeroExit {
		return strings.TrimSpace(resp.Stdout), &ExitError{Script: cmd, Status: resp.Exit}
	}
	return strings.TrimSpace(resp.Stdout), nil
}

// Upload implements host.Remote.
func (r *FakeRemote) Upload(ctx context.Context, content []byte, remotePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Kind: "upload", Raw: remotePath, Script: remotePath})
	if !r.Dirs[path.Dir(remotePath)] {
		return fmt.Errorf("upload %s: no such directory", remotePath)
	}
	r.Files[remotePath] = append([]byte(nil), content...)
	return nil
}

// Download implements host.Remote.
func (r *FakeRemote) Download(ctx context.Context, remotePath string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Kind: "download", Raw: remotePath, Script: remotePath})
	b, ok := r.Files[remotePath]
	if !ok {
		return nil, fmt.Errorf("download %s: no such file", remotePath)
	}
	return append([]byte(nil), b...), nil
}

func (r *FakeRemote) run(ctx context.Context, kind, raw string) Response {
	if err := ctx.Err(); err != nil {
		return Response{Err: err}
	}

	call := Call{Kind: kind, Raw: raw, Script: raw}
	script := raw
	if strings.HasPrefix(script, sudoPrefix) {
		call.Escalated = true
		script = strings.TrimPrefix(script, sudoPrefix)
	}
	if strings.HasPrefix(script, bashPrefix) {
		words := splitWords(strings.TrimPrefix(script, bashPrefix))
		if len(words) > 0 {
			call.Shell = true
			script = strings.TrimPrefix(words[0], pipefail)
		}
	}
	call.Script = script

	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)

	for i := len(r.handlers) - 1; i >= 0; i-- {
		if resp, ok := r.handlers[i](script); ok {
			return resp
		}
	}
	return r.interpret(script)
}

// interpret evaluates "a && b; c" lists of simple commands.
func (r *FakeRemote) interpret(script string) Response {
	if strings.Contains(script, " then ") || strings.Contains(script, "; then") {
		return Response{}
	}

	var out strings.Builder
	var last Response
	for _, seq := range splitList(script, "; ") {
		last = Response{}
		for _, part := range splitList(seq, " && ") {
			last = r.simple(part)
			out.WriteString(last.Stdout)
			if last.Exit != 0 {
				break
			}
		}
	}
	last.Stdout = out.String()
	return last
}

func (r *FakeRemote) simple(cmd string) Response {
	words := dropRedirects(splitWords(cmd))
	if len(words) == 0 {
		return Response{}
	}

	switch words[0] {
	case "true":
		return Response{}
	case "false":
		return Response{Exit: 1}
	case "[[":
		return r.bracketTest(words[1:])
	case "mktemp":
		r.tmpSeq++
		dir := fmt.Sprintf("/tmp/onepush.fake%04d", r.tmpSeq)
		r.Dirs[dir] = true
		return Response{Stdout: dir + "\n"}
	case "mkdir":
		for _, p := range args(words) {
			for d := p; d != "/" && d != "."; d = path.Dir(d) {
				r.Dirs[d] = true
			}
		}
		return Response{}
	case "rm":
		for _, p := range args(words) {
			r.remove(p)
		}
		return Response{}
	case "mv":
		a := args(words)
		if len(a) != 2 {
			return Response{Exit: 1}
		}
		b, ok := r.Files[a[0]]
		if !ok {
			return Response{Exit: 1}
		}
		if !r.Dirs[path.Dir(a[1])] {
			return Response{Exit: 1}
		}
		delete(r.Files, a[0])
		r.Files[a[1]] = b
		return Response{}
	case "chown":
		a := args(words)
		for _, p := range a[1:] {
			r.Owners[p] = a[0]
		}
		return Response{}
	case "chmod":
		a := args(words)
		for _, p := range a[1:] {
			r.Modes[p] = a[0]
		}
		return Response{}
	case "touch":
		for _, p := range args(words) {
			if _, ok := r.Files[p]; !ok {
				r.Files[p] = nil
			}
		}
		return Response{}
	case "cat":
		var sb strings.Builder
		for _, p := range args(words) {
			b, ok := r.Files[p]
			if !ok {
				return Response{Stdout: sb.String(), Exit: 1}
			}
			sb.Write(b)
		}
		return Response{Stdout: sb.String()}
	case "sha256sum":
		var sb strings.Builder
		for _, p := range args(words) {
			b, ok := r.Files[p]
			if !ok {
				return Response{Stdout: sb.String(), Exit: 1}
			}
			sum := sha256.Sum256(b)
			sb.WriteString(hex.EncodeToString(sum[:]) + "  " + p + "\n")
		}
		return Response{Stdout: sb.String()}
	case "readlink":
		a := args(words)
		if len(a) == 0 {
			return Response{Exit: 1}
		}
		target, ok := r.Links[a[0]]
		if !ok {
			return Response{Exit: 1}
		}
		return Response{Stdout: target + "\n"}
	case "ln":
		a := args(words)
		if len(a) != 2 {
			return Response{Exit: 1}
		}
		r.Links[a[1]] = a[0]
		return Response{}
	case "id":
		a := args(words)
		if len(a) == 0 || !r.Users[a[len(a)-1]] {
			return Response{Exit: 1}
		}
		return Response{Stdout: "1000\n"}
	case "adduser":
		a := args(words)
		if len(a) > 0 {
			r.Users[a[len(a)-1]] = true
		}
		return Response{}
	default:
		return Response{}
	}
}

func (r *FakeRemote) bracketTest(words []string) Response {
	// [[ -e a && -e b ]] / [[ ! -e a ]]
	if len(words) > 0 && words[len(words)-1] == "]]" {
		words = words[:len(words)-1]
	}
	result := true
	for _, clause := range splitClauses(words) {
		neg := false
		if len(clause) > 0 && clause[0] == "!" {
			neg = true
			clause = clause[1:]
		}
		ok := false
		if len(clause) == 2 && (clause[0] == "-e" || clause[0] == "-f" || clause[0] == "-d") {
			ok = r.exists(clause[1])
		}
		if neg {
			ok = !ok
		}
		result = result && ok
	}
	if result {
		return Response{}
	}
	return Response{Exit: 1}
}

func (r *FakeRemote) exists(p string) bool {
	if _, ok := r.Files[p]; ok {
		return true
	}
	if _, ok := r.Links[p]; ok {
		return true
	}
	return r.Dirs[p]
}

func (r *FakeRemote) remove(p string) {
	prefix := strings.TrimSuffix(p, "/") + "/"
	for f := range r.Files {
		if f == p || strings.HasPrefix(f, prefix) {
			delete(r.Files, f)
		}
	}
	for d := range r.Dirs {
		if d == p || strings.HasPrefix(d, prefix) {
			delete(r.Dirs, d)
		}
	}
	delete(r.Links, p)
}

// Paths returns every file path, sorted.
func (r *FakeRemote) Paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.Files))
	for p := range r.Files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func args(words []string) []string {
	var out []string
	for _, w := range words[1:] {
		if strings.HasPrefix(w, "-") {
			continue
		}
		out = append(out, w)
	}
	return out
}

func dropRedirects(words []string) []string {
	out := words[:0:0]
	for _, w := range words {
		if strings.HasPrefix(w, ">") || strings.HasPrefix(w, "2>") || strings.HasPrefix(w, "1>") {
			continue
		}
		out = append(out, w)
	}
	return out
}

func splitClauses(words []string) [][]string {
	var out [][]string
	cur := []string{}
	for _, w := range words {
		if w == "&&" {
			out = append(out, cur)
			cur = []string{}
			continue
		}
		cur = append(cur, w)
	}
	return append(out, cur)
}

// splitList splits s on sep, ignoring separators inside quotes or [[ ]].
func splitList(s, sep string) []string {
	var parts []string
	depth := 0
	var quote byte
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case strings.HasPrefix(s[i:], "[["):
			depth++
			i++
		case strings.HasPrefix(s[i:], "]]"):
			depth--
			i++
		case depth == 0 && strings.HasPrefix(s[i:], sep):
			parts = append(parts, s[start:i])
			i += len(sep) - 1
			start = i + 1
		}
	}
	return append(parts, s[start:])
}

// splitWords splits a command line into words, honoring quotes and
// backslash escapes.
func splitWords(s string) []string {
	var words []string
	var cur strings.Builder
	inWord := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\'':
			inWord = true
			j := strings.IndexByte(s[i+1:], '\'')
			if j < 0 {
				cur.WriteString(s[i+1:])
				i = len(s)
				continue
			}
			cur.WriteString(s[i+1 : i+1+j])
			i += j + 1
		case c == '"':
			inWord = true
			for i++; i < len(s) && s[i] != '"'; i++ {
				if s[i] == '\\' && i+1 < len(s) {
					i++
				}
				cur.WriteByte(s[i])
			}
		case c == '\\' && i+1 < len(s):
			inWord = true
			i++
			cur.WriteByte(s[i])
		case c == ' ' || c == '\t' || c == '\n':
			if inWord {
				words = append(words, cur.String())
				cur.Reset()
				inWord = false
			}
		default:
			inWord = true
			cur.WriteByte(c)
		}
	}
	if inWord {
		words = append(words, cur.String())
	}
	return words
}
