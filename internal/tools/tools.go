// Package tools defines the metadata update tools the agent may propose.
//
// Every tool maps to exactly one FileRecord field and one of three
// shapes: single file, one value per file, or one value for all files.
// The catalog is fixed: the oracle is handed these definitions on
// every call and anything outside them is a validation error.
package tools

import (
	"fmt"

	"github.com/dkoren/tagsmith/internal/tagstore"
)

// Mode describes how a tool's arguments map values onto target files.
type Mode int

const (
	// ModeSingle updates one field of one file.
	ModeSingle Mode = iota
	// ModePerFile updates one field across files, a distinct value per file.
	ModePerFile
	// ModeSame updates one field across files with a single shared value.
	ModeSame
)

// Spec describes one tool in the catalog.
type Spec struct {
	Name        string
	Description string
	Field       tagstore.Field
	Mode        Mode
	// ValueArg is the argument carrying the new value(s): plural for
	// ModePerFile ("artists"), singular otherwise ("artist").
	ValueArg string
}

// catalog is the fixed tool set, in the order tools are presented to
// the oracle.
var catalog = []Spec{
	{
		Name:        "batch_update_artist_tool",
		Description: "Update different artists for multiple files. filepaths and artists must be the same length; each file gets the corresponding artist.",
		Field:       tagstore.FieldArtist,
		Mode:        ModePerFile,
		ValueArg:    "artists",
	},
	{
		Name:        "batch_update_to_same_artist_tool",
		Description: "Update the same artist for multiple files.",
		Field:       tagstore.FieldArtist,
		Mode:        ModeSame,
		ValueArg:    "artist",
	},
	{
		Name:        "update_title_tool",
		Description: "Update the title of a single file.",
		Field:       tagstore.FieldTitle,
		Mode:        ModeSingle,
		ValueArg:    "title",
	},
	{
		Name:        "batch_update_album_tool",
		Description: "Update different albums for multiple files. filepaths and albums must be the same length.",
		Field:       tagstore.FieldAlbum,
		Mode:        ModePerFile,
		ValueArg:    "albums",
	},
	{
		Name:        "batch_update_to_same_album_tool",
		Description: "Update the same album for multiple files.",
		Field:       tagstore.FieldAlbum,
		Mode:        ModeSame,
		ValueArg:    "album",
	},
	{
		Name:        "batch_update_genre_tool",
		Description: "Update different genres for multiple files. filepaths and genres must be the same length.",
		Field:       tagstore.FieldGenre,
		Mode:        ModePerFile,
		ValueArg:    "genres",
	},
	{
		Name:        "batch_update_to_same_genre_tool",
		Description: "Update the same genre for multiple files.",
		Field:       tagstore.FieldGenre,
		Mode:        ModeSame,
		ValueArg:    "genre",
	},
	{
		Name:        "batch_update_year_tool",
		Description: "Update different years for multiple files. filepaths and years must be the same length.",
		Field:       tagstore.FieldYear,
		Mode:        ModePerFile,
		ValueArg:    "years",
	},
	{
		Name:        "batch_update_to_same_year_tool",
		Description: "Update the same year for multiple files.",
		Field:       tagstore.FieldYear,
		Mode:        ModeSame,
		ValueArg:    "year",
	},
	{
		Name:        "update_track_tool",
		Description: "Update the track number of a single file.",
		Field:       tagstore.FieldTrack,
		Mode:        ModeSingle,
		ValueArg:    "track",
	},
	{
		Name:        "update_comment_tool",
		Description: "Update the comment of a single file.",
		Field:       tagstore.FieldComment,
		Mode:        ModeSingle,
		ValueArg:    "comment",
	},
	{
		Name:        "batch_update_comment_tool",
		Description: "Update different comments for multiple files. filepaths and comments must be the same length.",
		Field:       tagstore.FieldComment,
		Mode:        ModePerFile,
		ValueArg:    "comments",
	},
	{
		Name:        "batch_update_album_artist_tool",
		Description: "Update different album artists for multiple files. filepaths and album_artists must be the same length.",
		Field:       tagstore.FieldAlbumArtist,
		Mode:        ModePerFile,
		ValueArg:    "album_artists",
	},
	{
		Name:        "batch_update_to_same_album_artist_tool",
		Description: "Update the same album artist for multiple files.",
		Field:       tagstore.FieldAlbumArtist,
		Mode:        ModeSame,
		ValueArg:    "album_artist",
	},
}

// Catalog returns the fixed tool set.
func Catalog() []Spec {
	out := make([]Spec, len(catalog))
	copy(out, catalog)
	return out
}

// Lookup finds a tool by name.
func Lookup(name string) (*Spec, bool) {
	for i := range catalog {
		if catalog[i].Name == name {
			return &catalog[i], true
		}
	}
	return nil, false
}

// Definitions returns the catalog in the wire format the oracle
// expects (type=function with a JSON-schema parameter object each).
func Definitions() []map[string]any {
	defs := make([]map[string]any, 0, len(catalog))
	for i := range catalog {
		defs = append(defs, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        catalog[i].Name,
				"description": catalog[i].Description,
				"parameters":  catalog[i].parameters(),
			},
		})
	}
	return defs
}

func (s *Spec) parameters() map[string]any {
	switch s.Mode {
	case ModeSingle:
		return map[string]any{
			"type": "object",
			"properties": map[string]any{
				"filepath": map[string]any{
					"type":        "string",
					"description": "Absolute path of the target file",
				},
				s.ValueArg: map[string]any{
					"type":        "string",
					"description": fmt.Sprintf("New %s value", s.Field),
				},
			},
			"required": []string{"filepath", s.ValueArg},
		}
	case ModePerFile:
		return map[string]any{
			"type": "object",
			"properties": map[string]any{
				"filepaths": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Absolute paths of the target files",
				},
				s.ValueArg: map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": fmt.Sprintf("New %s values, one per file, same length as filepaths", s.Field),
				},
			},
			"required": []string{"filepaths", s.ValueArg},
		}
	default: // ModeSame
		return map[string]any{
			"type": "object",
			"properties": map[string]any{
				"filepaths": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Absolute paths of the target files",
				},
				s.ValueArg: map[string]any{
					"type":        "string",
					"description": fmt.Sprintf("New %s value applied to every file", s.Field),
				},
			},
			"required": []string{"filepaths", s.ValueArg},
		}
	}
}
