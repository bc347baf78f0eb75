package supervisor

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/coupledsim/fmigate/pkg/modeldesc"
)

// Command is the fully resolved worker launch plan: one executable, the
// ordered argument list around the main argument, and the working
// directory. A single builder assembles it for every launch path.
type Command struct {
	Executable string
	PreArgs    []string
	MainArg    string
	PostArgs   []string
	WorkDir    string
}

// Args returns the complete argument list, <pre-args> <main-arg>
// <post-args>, skipping empty parts.
func (c Command) Args() []string {
	args := make([]string, 0, len(c.PreArgs)+1+len(c.PostArgs))
	args = append(args, c.PreArgs...)
	if c.MainArg != "" {
		args = append(args, c.MainArg)
	}
	return append(args, c.PostArgs...)
}

// ProcessURI rewrites fmu:// URIs to be relative to the FMU location.
// Other URIs pass through unchanged.
func ProcessURI(uri, fmuLocation string) string {
	if rest, ok := strings.CutPrefix(uri, "fmu://"); ok {
		return strings.TrimRight(fmuLocation, "/") + "/" + strings.TrimLeft(rest, "/")
	}
	return uri
}

// PathFromURI converts a file URI to a filesystem path. Plain paths pass
// through unchanged.
func PathFromURI(uri string) (string, error) {
	if !strings.Contains(uri, "://") {
		return uri, nil
	}
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("supervisor: invalid URI %q: %w", uri, err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("supervisor: unsupported URI scheme %q", u.Scheme)
	}
	if u.Host != "" && u.Host != "localhost" {
		return "", fmt.Errorf("supervisor: remote file URI not supported: %q", uri)
	}
	return u.Path, nil
}

// SplitArgs splits a vendor-annotation argument string on whitespace.
func SplitArgs(s string) []string { return strings.Fields(s) }

// ResolveWorkDir picks the worker's working directory: the entry point's
// directory if it exists, else the executable's directory, else the
// current directory.
func ResolveWorkDir(entryPath, exePath string) string {
	if entryPath != "" {
		dir := filepath.Dir(entryPath)
		if st, err := os.Stat(dir); err == nil && st.IsDir() {
			return dir
		}
	}
	if exePath != "" {
		dir := filepath.Dir(exePath)
		if st, err := os.Stat(dir); err == nil && st.IsDir() {
			return dir
		}
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

// Resolve builds the launch command from the model description's vendor
// annotations and launch hints, relative to the FMU location.
func Resolve(doc *modeldesc.Document, fmuLocation string, lg zerolog.Logger) (Command, error) {
	var cmd Command

	entryPointURL := doc.EntryPoint
	if override := doc.EntryPointURI(); override != "" {
		entryPointURL = override
	}
	entryPointURL = ProcessURI(entryPointURL, fmuLocation)

	entryPath := ""
	if entryPointURL != "" {
		p, err := PathFromURI(entryPointURL)
		if err != nil {
			lg.Error().Str("category", "ABORT").Err(err).Msg("invalid input URL for input file (entry point)")
			return cmd, err
		}
		entryPath = p
	}

	executableURL := ProcessURI(doc.ExecutableURI(), fmuLocation)
	switch {
	case executableURL != "":
		p, err := PathFromURI(executableURL)
		if err != nil {
			lg.Error().Str("category", "ABORT").Err(err).Msg("invalid input URI for executable")
			return cmd, err
		}
		cmd.Executable = p
	case doc.MIMEType != "":
		// FMI 1.0 tool coupling: the application name hides in the MIME
		// type and is resolved from PATH at launch.
		const prefix = "application/x-"
		if !strings.HasPrefix(doc.MIMEType, prefix) {
			err := fmt.Errorf("supervisor: incompatible MIME type: %s", doc.MIMEType)
			lg.Error().Str("category", "ABORT").Err(err).Msg("incompatible MIME type")
			return cmd, err
		}
		cmd.Executable = strings.TrimPrefix(doc.MIMEType, prefix)
	default:
		err := fmt.Errorf("supervisor: model description names no executable")
		lg.Error().Str("category", "ABORT").Err(err).Msg("incompatible model description")
		return cmd, err
	}

	cmd.PreArgs = SplitArgs(doc.PreArguments())
	cmd.PostArgs = SplitArgs(doc.PostArguments())
	if main := doc.MainArguments(); main != "" {
		cmd.MainArg = main
	} else {
		cmd.MainArg = entryPath
	}

	exeForDir := cmd.Executable
	if !filepath.IsAbs(exeForDir) {
		exeForDir = ""
	}
	cmd.WorkDir = ResolveWorkDir(entryPath, exeForDir)

	return cmd, nil
}

// CopyInputFiles copies the additional input files listed in the model
// description into the worker's working directory.
func CopyInputFiles(files []string, fmuLocation, destDir string) error {
	for _, f := range files {
		src, err := PathFromURI(ProcessURI(f, fmuLocation))
		if err != nil {
			return err
		}
		if err := copyFile(src, filepath.Join(destDir, filepath.Base(src))); err != nil {
			return fmt.Errorf("supervisor: copy input file %q: %w", f, err)
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
