package artifact

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/distribution/reference"
	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
	"github.com/opencontainers/go-digest"

	"shipyard/internal/apperrors"
)

// outputTail is how much build tool output is kept for diagnostics on failure.
const outputTail = 4096

// DockerBuilder implements Builder against the Docker daemon.
type DockerBuilder struct {
	client *client.Client
	cfg    Config
	repo   reference.Named
	auth   string // encoded registry auth for push
}

// NewDockerBuilder creates a builder connected to the local Docker daemon.
func NewDockerBuilder(cfg Config) (*DockerBuilder, error) {
	if cfg.Repo == "" {
		return nil, apperrors.Validation("repo", "image repository is required")
	}
	repo, err := reference.ParseNormalizedNamed(cfg.Repo)
	if err != nil {
		return nil, apperrors.Validation("repo", fmt.Sprintf("invalid image repository %q: %v", cfg.Repo, err))
	}
	if cfg.Dockerfile == "" {
		cfg.Dockerfile = "Dockerfile"
	}

	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	auth := ""
	if cfg.RegistryUser != "" {
		auth, err = registry.EncodeAuthConfig(registry.AuthConfig{
			Username: cfg.RegistryUser,
			Password: cfg.RegistryPass,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to encode registry auth: %w", err)
		}
	}

	return &DockerBuilder{
		client: dockerClient,
		cfg:    cfg,
		repo:   repo,
		auth:   auth,
	}, nil
}

// Build tars the build context, runs the image build, and pushes the result.
// The returned artifact carries the registry content digest, so two builds
// producing identical bytes yield interchangeable artifacts.
func (b *DockerBuilder) Build(ctx context.Context, revision string) (*Artifact, error) {
	logger := slog.With("component", "builder", "revision", revision)
	tag := buildTag(revision)

	tagged, err := reference.WithTag(b.repo, tag)
	if err != nil {
		return nil, apperrors.BuildFailure(revision, "", err)
	}

	buildCtx, err := tarDirectory(b.cfg.ContextDir)
	if err != nil {
		return nil, apperrors.BuildFailure(revision, "", fmt.Errorf("failed to tar build context: %w", err))
	}

	logger.Info("Building image", "tag", tagged.String())
	resp, err := b.client.ImageBuild(ctx, buildCtx, build.ImageBuildOptions{
		Tags:        []string{tagged.String()},
		Dockerfile:  b.cfg.Dockerfile,
		Remove:      true,
		ForceRemove: true,
		BuildArgs:   map[string]*string{"SOURCE_REVISION": &revision},
	})
	if err != nil {
		return nil, apperrors.BuildFailure(revision, "", err)
	}
	defer resp.Body.Close()

	output, err := drainBuildStream(resp.Body)
	if err != nil {
		return nil, apperrors.BuildFailure(revision, output, err)
	}

	logger.Info("Pushing image", "tag", tagged.String())
	pushReader, err := b.client.ImagePush(ctx, tagged.String(), image.PushOptions{RegistryAuth: b.auth})
	if err != nil {
		return nil, apperrors.BuildFailure(revision, output, fmt.Errorf("push failed: %w", err))
	}
	defer pushReader.Close()

	dgst, err := digestFromPushStream(pushReader)
	if err != nil {
		return nil, apperrors.BuildFailure(revision, output, fmt.Errorf("push failed: %w", err))
	}
	if dgst == "" {
		// Older registries omit the push aux record; fall back to the
		// repo digest recorded on the local image.
		dgst, err = b.digestFromInspect(ctx, tagged.String())
		if err != nil {
			return nil, apperrors.BuildFailure(revision, output, err)
		}
	}

	canonical, err := reference.WithDigest(b.repo, dgst)
	if err != nil {
		return nil, apperrors.BuildFailure(revision, output, err)
	}

	art := &Artifact{
		Digest:   dgst,
		Revision: revision,
		ImageRef: canonical.String(),
		BuiltAt:  time.Now().UTC(),
	}
	logger.Info("Artifact built", "digest", art.Digest.String())
	return art, nil
}

// Ready checks that the Docker daemon is reachable.
func (b *DockerBuilder) Ready(ctx context.Context) error {
	_, err := b.client.Ping(ctx)
	return err
}

// Close releases the underlying Docker client.
func (b *DockerBuilder) Close() error {
	return b.client.Close()
}

func (b *DockerBuilder) digestFromInspect(ctx context.Context, ref string) (digest.Digest, error) {
	inspect, err := b.client.ImageInspect(ctx, ref)
	if err != nil {
		return "", err
	}
	for _, repoDigest := range inspect.RepoDigests {
		parsed, err := reference.ParseNormalizedNamed(repoDigest)
		if err != nil {
			continue
		}
		if canonical, ok := parsed.(reference.Canonical); ok && canonical.Name() == b.repo.Name() {
			return canonical.Digest(), nil
		}
	}
	return "", errors.New("no repo digest recorded for pushed image")
}

// buildTag derives a docker tag from a source revision. Revisions are already
// restricted to tag-safe characters at validation; the slice keeps tags short
// for readability.
func buildTag(revision string) string {
	tag := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '.', r == '-':
			return r
		default:
			return '-'
		}
	}, revision)
	if len(tag) > 12 {
		tag = tag[:12]
	}
	return tag
}

// buildMessage mirrors the Docker daemon's JSON progress stream.
type buildMessage struct {
	Stream string          `json:"stream"`
	Aux    json.RawMessage `json:"aux"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"errorDetail"`
}

// drainBuildStream consumes the build progress stream, returning the tail of
// the tool output and the first error the daemon reported.
func drainBuildStream(r io.Reader) (string, error) {
	var tail bytes.Buffer
	dec := json.NewDecoder(r)
	for {
		var msg buildMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return tailString(&tail), fmt.Errorf("malformed build output: %w", err)
		}
		if msg.Error != nil {
			return tailString(&tail), errors.New(msg.Error.Message)
		}
		if msg.Stream != "" {
			tail.WriteString(msg.Stream)
			if tail.Len() > 2*outputTail {
				trimmed := tail.Bytes()[tail.Len()-outputTail:]
				rest := bytes.Clone(trimmed)
				tail.Reset()
				tail.Write(rest)
			}
		}
	}
	return tailString(&tail), nil
}

// pushMessage mirrors the relevant parts of the push progress stream.
type pushMessage struct {
	Aux *struct {
		Tag    string `json:"Tag"`
		Digest string `json:"Digest"`
		Size   int    `json:"Size"`
	} `json:"aux"`
	Error *struct {
		Message string `json:"message"`
	} `json:"errorDetail"`
}

// digestFromPushStream consumes the push progress stream and returns the
// content digest the registry reported, if any.
func digestFromPushStream(r io.Reader) (digest.Digest, error) {
	var dgst digest.Digest
	dec := json.NewDecoder(r)
	for {
		var msg pushMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return "", fmt.Errorf("malformed push output: %w", err)
		}
		if msg.Error != nil {
			return "", errors.New(msg.Error.Message)
		}
		if msg.Aux != nil && msg.Aux.Digest != "" {
			parsed, err := digest.Parse(msg.Aux.Digest)
			if err != nil {
				return "", fmt.Errorf("registry reported invalid digest %q: %w", msg.Aux.Digest, err)
			}
			dgst = parsed
		}
	}
	return dgst, nil
}

func tailString(buf *bytes.Buffer) string {
	s := buf.String()
	if len(s) > outputTail {
		s = s[len(s)-outputTail:]
	}
	return strings.TrimSpace(s)
}

// tarDirectory packages a directory into an in-memory tar archive for the
// build API. Build contexts for this service are small application trees, so
// buffering in memory is acceptable.
func tarDirectory(dir string) (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			if _, err := io.Copy(tw, f); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return &buf, nil
}
