package docker

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/image"
	"github.com/rs/zerolog"

	"github.com/mmr-tortoise/libship/internal/model"
)

// BuildOptions describes one builder image build.
type BuildOptions struct {
	// ContextDir is the build context directory on the host.
	ContextDir string

	// Dockerfile is the Dockerfile path relative to the context.
	Dockerfile string

	// Ref is the image reference (name:tag) to apply.
	Ref string

	// Labels are applied to the built image.
	Labels map[string]string

	// ExcludeDirs lists directory names omitted from the build context
	// (stale build output, virtualenvs). ".git" is always excluded.
	ExcludeDirs []string

	// Output receives the daemon's build log. Nil discards it.
	Output io.Writer
}

// BuildImage builds the builder image from a tar of the context directory
// and streams the daemon's JSON build log. Any build error — including
// errors reported mid-stream by the daemon — is returned as a CLIError
// with ExitImageBuildFailed.
func BuildImage(ctx context.Context, cli *Client, opts BuildOptions, logger zerolog.Logger) error {
	logger.Info().Str("image", opts.Ref).Str("context", opts.ContextDir).Msg("building builder image")

	buildContext, err := tarBuildContext(opts.ContextDir, opts.ExcludeDirs)
	if err != nil {
		return model.WrapCLIError(model.ExitImageBuildFailed, "failed to create build context", err)
	}
	defer buildContext.Close()

	resp, err := cli.Inner().ImageBuild(ctx, buildContext, types.ImageBuildOptions{
		Tags:        []string{opts.Ref},
		Dockerfile:  opts.Dockerfile,
		Remove:      true,
		ForceRemove: true,
		Labels:      opts.Labels,
	})
	if err != nil {
		return model.WrapCLIError(model.ExitImageBuildFailed,
			fmt.Sprintf("image build failed for %s", opts.Ref), err)
	}
	defer resp.Body.Close()

	if err := streamBuildOutput(resp.Body, opts.Output); err != nil {
		return model.WrapCLIError(model.ExitImageBuildFailed,
			fmt.Sprintf("image build failed for %s", opts.Ref), err)
	}

	logger.Info().Str("image", opts.Ref).Msg("builder image ready")
	return nil
}

// RemoveImage removes a locally-built image by reference. Used by the
// teardown variant that does not keep the builder image between runs.
func RemoveImage(ctx context.Context, cli *Client, ref string) error {
	_, err := cli.Inner().ImageRemove(ctx, ref, image.RemoveOptions{
		PruneChildren: true,
	})
	if err != nil {
		return fmt.Errorf("failed to remove image %s: %w", ref, err)
	}
	return nil
}

// EnsureImage pulls an image if it is not already present locally. The
// database image is pulled this way; the builder image is always built.
func EnsureImage(ctx context.Context, cli *Client, ref string, logger zerolog.Logger) error {
	if _, _, err := cli.Inner().ImageInspectWithRaw(ctx, ref); err == nil {
		return nil
	}

	logger.Info().Str("image", ref).Msg("pulling image")
	reader, err := cli.Inner().ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	defer reader.Close()

	// The pull stream must be drained for the pull to complete.
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	return nil
}

// tarBuildContext creates an in-memory tar archive of the build context,
// excluding .git and the given directory names at any depth. Returning a
// ReadCloser keeps the ImageBuild call shape identical to a file-backed
// context.
func tarBuildContext(contextDir string, excludeDirs []string) (io.ReadCloser, error) {
	excluded := map[string]bool{".git": true}
	for _, name := range excludeDirs {
		if name != "" {
			excluded[name] = true
		}
	}

	buf := new(bytes.Buffer)
	tw := tar.NewWriter(buf)

	err := filepath.WalkDir(contextDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(contextDir, path)
		if err != nil {
			return err
		}
		if relPath == "." {
			return nil
		}

		if d.IsDir() && excluded[d.Name()] {
			return filepath.SkipDir
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		// Symlinks are stored as links, not followed, matching the
		// behavior of a file-backed docker build context.
		link := ""
		if info.Mode()&os.ModeSymlink != 0 {
			if link, err = os.Readlink(path); err != nil {
				return err
			}
		}

		header, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(relPath)

		if err := tw.WriteHeader(header); err != nil {
			return err
		}

		if info.Mode().IsRegular() {
			data, err := os.Open(path)
			if err != nil {
				return err
			}
			if _, err := io.Copy(tw, data); err != nil {
				data.Close()
				return err
			}
			data.Close()
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to tar build context: %w", err)
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize build context: %w", err)
	}

	return io.NopCloser(bytes.NewReader(buf.Bytes())), nil
}

// buildMessage is one line of the daemon's JSON build log.
type buildMessage struct {
	Stream      string `json:"stream"`
	Error       string `json:"error"`
	ErrorDetail struct {
		Message string `json:"message"`
	} `json:"errorDetail"`
}

// streamBuildOutput decodes the daemon's JSON build stream, forwarding
// human-readable lines to out and surfacing mid-stream build errors.
func streamBuildOutput(body io.Reader, out io.Writer) error {
	if out == nil {
		out = io.Discard
	}

	decoder := json.NewDecoder(body)
	for {
		var msg buildMessage
		if err := decoder.Decode(&msg); err == io.EOF {
			return nil
		} else if err != nil {
			return fmt.Errorf("failed to decode build output: %w", err)
		}

		if msg.Error != "" {
			detail := msg.ErrorDetail.Message
			if detail == "" {
				detail = msg.Error
			}
			return fmt.Errorf("build error: %s", detail)
		}

		if msg.Stream != "" {
			if _, err := io.WriteString(out, msg.Stream); err != nil {
				return err
			}
		}
	}
}

// ContextExcludes returns the directory names to exclude from the build
// context given the clean configuration: the stale target dir name and the
// skip marker subtrees. Keeping them out of the context upholds the
// clean-build guarantee even if a target dir reappears between the sweep
// and the build.
func ContextExcludes(targetDir, skipMarker string) []string {
	excludes := []string{targetDir}
	if skipMarker != "" && !strings.EqualFold(skipMarker, targetDir) {
		excludes = append(excludes, skipMarker)
	}
	return excludes
}
