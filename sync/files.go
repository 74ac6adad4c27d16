package sync

import (
	"bytes"
	"embed"
	"io"
	"io/fs"
	"path"
)

//go:embed mappings
var embeddedFiles embed.FS

// Mappings exposes the files embedded under mappings/.
var Mappings = EmbeddedMappings{Root: "mappings", Files: embeddedFiles}

type MappingFile struct {
	Name   string
	Reader io.Reader
	Length int
}

type EmbeddedMappings struct {
	Root  string
	Files EmbeddedFS
}

type EmbeddedFS interface {
	Open(name string) (fs.File, error)
	ReadDir(name string) ([]fs.DirEntry, error)
	ReadFile(name string) ([]byte, error)
}

func (em EmbeddedMappings) MustFindRootMappingFile(filename string) (MappingFile, error) {
	var result MappingFile
	name := path.Join(em.Root, filename)
	data, err := em.Files.ReadFile(name)
	if err == nil {
		result.Name = name
		result.Reader = bytes.NewReader(data)
		result.Length = len(data)
	}
	return result, err
}

func (em EmbeddedMappings) MustFindDefaultsMappingFile() (MappingFile, error) {
	return em.MustFindRootMappingFile("defaults.yaml")
}

// MustFindWebhookSchemaFile returns the embedded JSON schema used to
// validate incoming webhook payloads.
func (em EmbeddedMappings) MustFindWebhookSchemaFile() (MappingFile, error) {
	return em.MustFindRootMappingFile("webhook.schema.json")
}
