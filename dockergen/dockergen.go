package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"

	"github.com/opencode-docker-py/dockergen/backup"
)

const (
	MaskedDirsDefault = ".venv .ve .git"
	OutputDefault     = "docker-compose.yml"
	BackupDirDefault  = "backups"

	ContainerName = "opencode-docker-py-agent"
	WorkspaceRoot = "/workspace"

	outputPerm = 0644
)

var configMounts = []string{
	"./config/AGENT_RULES.md:/home/opencode/.config/opencode/AGENT_RULES.md:ro",
	"./config/opencode.json:/home/opencode/.config/opencode/opencode.json:ro",
}

type pair struct {
	key, value string
}

type Config struct {
	MaskedDirs string
	Output     string
	BackupDir  string
}

// Dirs splits MaskedDirs on whitespace, keeping order and duplicates.
func (c Config) Dirs() []string {
	return strings.Fields(c.MaskedDirs)
}

// GenerateCompose renders the compose document for the agent service with
// one masking volume per entry of dirs. Entries are written unescaped.
func GenerateCompose(dirs []string) string {
	var builder strings.Builder
	writeKeyValue(&builder, 0, pair{key: "services"})
	writeAgent(&builder, dirs)
	writeBlank(&builder)
	writeVolumes(&builder)
	return builder.String()
}

func WriteCompose(dirs []string, w io.Writer) error {
	_, err := io.WriteString(w, GenerateCompose(dirs))
	return err
}

func writeAgent(builder *strings.Builder, dirs []string) {
	writeKeyValue(builder, 2, pair{key: "agent"})
	writeKeyValue(builder, 4, pair{key: "build"})
	writeKeyValue(builder, 6, pair{key: "context", value: "."})
	writeKeyValue(builder, 6, pair{key: "dockerfile", value: "./docker/Dockerfile"})
	writeKeyValue(builder, 4, pair{key: "container_name", value: ContainerName})
	writePorts(builder)
	writeAgentVolumes(builder, dirs)
	writeKeyValue(builder, 4, pair{key: "env_file"})
	writeItemList(builder, 6, ".env")
	writeKeyValue(builder, 4, pair{key: "tty", value: "true"})
	writeKeyValue(builder, 4, pair{key: "stdin_open", value: "true"})
}

func writePorts(builder *strings.Builder) {
	writeKeyValue(builder, 4, pair{key: "ports"})
	writeComment(builder, 6, "For running OpenCode in UI mode.")
	writeItemList(builder, 6, `"4096:4096"`)
	writeComment(builder, 6, "For running local API server, FastAPI as an example.")
	writeItemList(builder, 6, `"8080:8080"`)
}

func writeAgentVolumes(builder *strings.Builder, dirs []string) {
	writeKeyValue(builder, 4, pair{key: "volumes"})
	writeComment(builder, 6, "Config files mounted to /home/opencode/.config/opencode.")
	writeItemList(builder, 6, configMounts...)
	writeBlank(builder)

	writeComment(builder, 6, "Project directory mounted to "+WorkspaceRoot+".")
	writeItemList(builder, 6, "${HOST_DIR}:"+WorkspaceRoot)
	writeBlank(builder)

	writeMasking(builder, 6, dirs)
	writeBlank(builder)

	writeComment(builder, 6, "UV cache")
	writeItemList(builder, 6, "uv_cache:/home/opencode/.cache/uv")
}

// writeMasking shadows each dir under the workspace mount with an anonymous
// volume. An empty list still leaves one empty line.
func writeMasking(builder *strings.Builder, ident int, dirs []string) {
	writeComment(builder, ident, fmt.Sprintf("Masking %s to prevent it from being mounted.", strings.Join(dirs, ", ")))
	if len(dirs) == 0 {
		writeBlank(builder)
		return
	}
	for _, d := range dirs {
		writeItemList(builder, ident, WorkspaceRoot+"/"+d)
	}
}

func writeVolumes(builder *strings.Builder) {
	writeKeyValue(builder, 0, pair{key: "volumes"})
	writeKeyValue(builder, 2, pair{key: "uv_cache"})
	writeComment(builder, 4, "Dynamic volume name in Docker for uv cache.")
	writeKeyValue(builder, 4, pair{key: "name", value: "${PROJECT_NAME}_uv_cache"})
}

func writeItemList(builder *strings.Builder, ident int, values ...string) {
	spaces := strings.Repeat(" ", ident)
	for _, v := range values {
		builder.WriteString(spaces)
		builder.WriteByte('-')
		builder.WriteByte(' ')
		builder.WriteString(v)
		builder.WriteByte('\n')
	}
}

func writeKeyValue(builder *strings.Builder, ident int, p pair) {
	spaces := strings.Repeat(" ", ident)
	builder.WriteString(spaces)
	builder.WriteString(p.key)
	builder.WriteByte(':')
	if len(p.value) != 0 {
		builder.WriteByte(' ')
		builder.WriteString(p.value)
	}
	builder.WriteByte('\n')
}

func writeComment(builder *strings.Builder, ident int, text string) {
	builder.WriteString(strings.Repeat(" ", ident))
	builder.WriteString("# ")
	builder.WriteString(text)
	builder.WriteByte('\n')
}

func writeBlank(builder *strings.Builder) {
	builder.WriteByte('\n')
}

func InitConfig(flags *pflag.FlagSet, cfg *Config) {
	flags.StringVarP(&cfg.MaskedDirs, "masked-dirs", "m", MaskedDirsDefault, "Space-separated directories to mask")
	flags.StringVarP(&cfg.Output, "output", "o", OutputDefault, "Output file path")
	flags.StringVarP(&cfg.BackupDir, "backup-dir", "b", BackupDirDefault, "Backup directory path")
}

// Run backs up cfg.Output if it exists, then overwrites it with a freshly
// generated document. Progress is reported on stdout.
func Run(cfg Config, fs backup.FS, b *backup.Backuper, stdout io.Writer) error {
	backupPath, err := b.BackupExistingFile(cfg.Output, cfg.BackupDir)
	if err != nil {
		return errors.Wrap(err, "couldn't back up existing file")
	}
	if backupPath != "" {
		fmt.Fprintf(stdout, "Backed up existing file to: %s\n", backupPath)
	}

	dirs := cfg.Dirs()
	f, err := fs.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, outputPerm)
	if err != nil {
		return errors.Wrapf(err, "couldn't create/open file %s", cfg.Output)
	}
	if err := WriteCompose(dirs, f); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "couldn't write %s", cfg.Output)
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "couldn't close %s", cfg.Output)
	}

	log.Infof("action: generate | result: success | output: %s | masked_dirs: %d", cfg.Output, len(dirs))
	fmt.Fprintf(stdout, "Generated docker-compose file: %s\n", filepath.Clean(cfg.Output))
	return nil
}
