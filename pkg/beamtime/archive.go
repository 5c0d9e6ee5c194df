package beamtime

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
	"unicode"

	"github.com/otiai10/copy"
	"k8s.io/klog/v2"
)

// State is the progress of an archive run.
type State int

const (
	Ready State = iota
	Identified
	Staged
	Done
	Failed
	Aborted
)

func (s State) String() string {
	switch s {
	case Ready:
		return "READY"
	case Identified:
		return "IDENTIFIED"
	case Staged:
		return "STAGED"
	case Done:
		return "DONE"
	case Failed:
		return "FAILED"
	case Aborted:
		return "ABORTED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// continueAnswer merges into an existing archive directory.
const continueAnswer = "continue"

// Report describes the outcome of an archive run.
type Report struct {
	State  State
	UserID string
	Target string
	// Moved lists working directories now in the archive.
	Moved []string
	// Remaining lists working directories still to be moved by hand.
	Remaining []string
	// Errors holds one error per directory that failed preflight or could not be moved.
	Errors []error
}

// Archiver moves the working directories into {ArchiveRoot}/{user}/{YYYY}_{MM}[/suffix].
type Archiver struct {
	c *Config
	p Prompter

	// DefaultUser is offered when the operator gives an empty user id.
	DefaultUser string
	// Now returns the time used to name the archive directory.
	Now func() time.Time

	rename func(src, dest string) error
	state  State
}

// NewArchiver returns an archiver that asks p for confirmations.
func NewArchiver(c *Config, p Prompter) *Archiver {
	return &Archiver{
		c:      c,
		p:      p,
		Now:    time.Now,
		rename: os.Rename,
		state:  Ready,
	}
}

// State returns the current state.
func (a *Archiver) State() State {
	return a.state
}

// Run performs the archive. Nothing is changed on disk unless the operator confirms
// both the user id and the destination. Moves that succeeded are kept when a later
// one fails; the report lists what remains.
func (a *Archiver) Run() (*Report, error) {
	rep := &Report{State: a.state}
	if a.state != Ready {
		return rep, fmt.Errorf("archiver already ran: %s", a.state)
	}

	finish := func(s State, err error) (*Report, error) {
		a.state = s
		rep.State = s
		return rep, err
	}

	user, err := a.identify()
	if err != nil {
		if errors.Is(err, ErrAborted) {
			return finish(Aborted, err)
		}
		return finish(Failed, err)
	}
	rep.UserID = user
	a.state = Identified

	target, err := a.target(user)
	if err != nil {
		if errors.Is(err, ErrAborted) {
			return finish(Aborted, err)
		}
		return finish(Failed, err)
	}
	rep.Target = target

	srcs := a.sources()
	if errs := a.preflight(srcs); len(errs) > 0 {
		rep.Remaining = srcs
		rep.Errors = errs
		return finish(Failed, errors.Join(errs...))
	}

	if err := os.MkdirAll(target, 0o755); err != nil {
		rep.Remaining = srcs
		return finish(Failed, fmt.Errorf("create %s: %w", target, err))
	}
	a.state = Staged
	klog.Infof("moving %d working directories to %s", len(srcs), target)

	var errs []error
	for _, src := range srcs {
		dest := filepath.Join(target, filepath.Base(src))
		if err := a.move(src, dest); err != nil {
			klog.Errorf("%v", err)
			errs = append(errs, err)
			rep.Remaining = append(rep.Remaining, src)
			continue
		}
		klog.Infof("moved %s -> %s", src, dest)
		rep.Moved = append(rep.Moved, src)
	}

	if len(errs) > 0 {
		rep.Errors = errs
		return finish(Failed, errors.Join(errs...))
	}
	return finish(Done, nil)
}

func (a *Archiver) identify() (string, error) {
	q := "Please enter the SAF number of this beamtime (no space): "
	if a.DefaultUser != "" {
		q = fmt.Sprintf("Please enter the SAF number of this beamtime (no space) [%s]: ", a.DefaultUser)
	}
	id, err := a.p.Ask(q)
	if err != nil {
		return "", err
	}
	if id == "" {
		id = a.DefaultUser
	}

	clean := alnum(id)
	if clean == "" {
		return "", fmt.Errorf("%w: no usable user id in %q", ErrAborted, id)
	}

	trunk := filepath.Join(a.c.ArchiveRoot, clean)
	ans, err := a.p.Ask(fmt.Sprintf("Current data in %s, %s, %s and %s will be moved to %s\nPlease confirm that is the correct path (yes/no): ",
		TifDir, DarkDir, ConfigDir, ScriptDir, trunk))
	if err != nil {
		return "", err
	}
	if !strings.EqualFold(ans, "yes") && !strings.EqualFold(ans, "y") {
		return "", fmt.Errorf("%w: %s not confirmed", ErrAborted, trunk)
	}
	return clean, nil
}

// target picks the archive directory, asking for a suffix while it already exists.
func (a *Archiver) target(user string) (string, error) {
	now := a.Now()
	base := filepath.Join(a.c.ArchiveRoot, user, fmt.Sprintf("%d_%02d", now.Year(), int(now.Month())))

	target := base
	for {
		_, err := os.Stat(target)
		if os.IsNotExist(err) {
			return target, nil
		}
		if err != nil {
			return "", fmt.Errorf("stat: %w", err)
		}

		ans, err := a.p.Ask(fmt.Sprintf("%s already exists for this user and month.\n"+
			"Enter a new directory name for a new beamtime (e.g. secondbeamtime), %q to add files to it, or nothing to stop: ",
			target, continueAnswer))
		if err != nil {
			return "", err
		}
		if strings.EqualFold(ans, continueAnswer) {
			return target, nil
		}

		suffix := alnum(ans)
		if suffix == "" {
			return "", fmt.Errorf("%w: %s exists", ErrAborted, target)
		}
		target = filepath.Join(base, suffix)
	}
}

// sources returns the paths to archive: the working directories and the session file if present.
func (a *Archiver) sources() []string {
	srcs := a.c.WorkDirs()
	if _, err := os.Stat(SessionPath(a.c)); err == nil {
		srcs = append(srcs, SessionPath(a.c))
	}
	return srcs
}

// preflight checks that every working directory and the archive root are writable.
func (a *Archiver) preflight(srcs []string) []error {
	var errs []error
	for _, src := range srcs {
		st, err := os.Stat(src)
		if err != nil {
			errs = append(errs, &MoveError{Src: src, Err: err})
			continue
		}
		if !st.IsDir() {
			continue
		}
		if err := writable(src); err != nil {
			errs = append(errs, &MoveError{Src: src, Err: err})
		}
	}

	if err := os.MkdirAll(a.c.ArchiveRoot, 0o755); err != nil {
		return append(errs, fmt.Errorf("archive root: %w", err))
	}
	if err := writable(a.c.ArchiveRoot); err != nil {
		errs = append(errs, fmt.Errorf("archive root: %w", err))
	}
	return errs
}

func (a *Archiver) move(src, dest string) error {
	if _, err := os.Lstat(dest); err == nil {
		return &MoveError{Src: src, Dest: dest, Err: ErrPathConflict}
	}

	err := a.rename(src, dest)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return &MoveError{Src: src, Dest: dest, Err: err}
	}

	klog.Infof("%s is on another device, copying", dest)
	if err := copy.Copy(src, dest, copy.Options{PreserveTimes: true}); err != nil {
		return &MoveError{Src: src, Dest: dest, Err: fmt.Errorf("copy: %w", err)}
	}
	if err := os.RemoveAll(src); err != nil {
		return &MoveError{Src: src, Dest: dest, Err: fmt.Errorf("remove after copy: %w", err)}
	}
	return nil
}

func writable(dir string) error {
	f, err := os.CreateTemp(dir, ".write-test-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

func alnum(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
