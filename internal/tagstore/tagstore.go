// Package tagstore reads and writes metadata tags on audio files.
//
// Reading uses dhowden/tag, which understands the whole library format
// family (mp3, m4a, flac, ogg). Writing is ID3v2-only via bogem/id3v2;
// paths outside the writable family yield StatusUnsupportedFormat
// rather than an error.
package tagstore

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/dhowden/tag"
)

// Field identifies one metadata field of a FileRecord.
type Field string

const (
	FieldTitle       Field = "title"
	FieldAlbum       Field = "album"
	FieldArtist      Field = "artist"
	FieldGenre       Field = "genre"
	FieldYear        Field = "year"
	FieldTrack       Field = "track"
	FieldComment     Field = "comment"
	FieldAlbumArtist Field = "album_artist"
)

// Fields lists every mutable metadata field, in schema order.
func Fields() []Field {
	return []Field{
		FieldTitle, FieldAlbum, FieldArtist, FieldGenre,
		FieldYear, FieldTrack, FieldComment, FieldAlbumArtist,
	}
}

// FileRecord is one audio file's metadata snapshot. Filepath is the
// sole identity key; empty strings mean the tag is absent.
type FileRecord struct {
	Filepath    string `json:"filepath"`
	Title       string `json:"title,omitempty"`
	Album       string `json:"album,omitempty"`
	Artist      string `json:"artist,omitempty"`
	Genre       string `json:"genre,omitempty"`
	Year        string `json:"year,omitempty"`
	Track       string `json:"track,omitempty"`
	Comment     string `json:"comment,omitempty"`
	AlbumArtist string `json:"album_artist,omitempty"`
}

// Get returns the value of one field.
func (r *FileRecord) Get(f Field) string {
	switch f {
	case FieldTitle:
		return r.Title
	case FieldAlbum:
		return r.Album
	case FieldArtist:
		return r.Artist
	case FieldGenre:
		return r.Genre
	case FieldYear:
		return r.Year
	case FieldTrack:
		return r.Track
	case FieldComment:
		return r.Comment
	case FieldAlbumArtist:
		return r.AlbumArtist
	}
	return ""
}

// Set assigns the value of one field.
func (r *FileRecord) Set(f Field, value string) {
	switch f {
	case FieldTitle:
		r.Title = value
	case FieldAlbum:
		r.Album = value
	case FieldArtist:
		r.Artist = value
	case FieldGenre:
		r.Genre = value
	case FieldYear:
		r.Year = value
	case FieldTrack:
		r.Track = value
	case FieldComment:
		r.Comment = value
	case FieldAlbumArtist:
		r.AlbumArtist = value
	}
}

// readableExts is the format family we can scan.
var readableExts = map[string]bool{
	".mp3":  true,
	".m4a":  true,
	".flac": true,
	".ogg":  true,
	".oga":  true,
}

// Store is the tag store adapter for one library folder.
type Store struct {
	log *slog.Logger
}

// New creates a tag store adapter.
func New(log *slog.Logger) *Store {
	return &Store{log: log}
}

// ReadAll walks folder and returns a record for every audio file found,
// ordered by filepath. Files whose tags cannot be parsed still get a
// record with empty fields. The file exists and is addressable even if
// its tags are broken.
func (s *Store) ReadAll(folder string) ([]FileRecord, error) {
	var records []FileRecord

	err := filepath.WalkDir(folder, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !readableExts[strings.ToLower(filepath.Ext(path))] {
			return nil
		}

		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}

		rec, err := s.Read(abs)
		if err != nil {
			s.log.Debug("tag parse failed, recording path only", "path", abs, "error", err)
			rec = FileRecord{Filepath: abs}
		}
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", folder, err)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Filepath < records[j].Filepath
	})
	return records, nil
}

// Read returns the metadata snapshot for a single file.
func (s *Store) Read(path string) (FileRecord, error) {
	rec := FileRecord{Filepath: path}

	f, err := os.Open(path)
	if err != nil {
		return rec, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return rec, fmt.Errorf("parse tags %s: %w", path, err)
	}

	rec.Title = m.Title()
	rec.Album = m.Album()
	rec.Artist = m.Artist()
	rec.Genre = m.Genre()
	rec.Comment = m.Comment()
	rec.AlbumArtist = m.AlbumArtist()
	if y := m.Year(); y != 0 {
		rec.Year = strconv.Itoa(y)
	}
	if n, _ := m.Track(); n != 0 {
		rec.Track = strconv.Itoa(n)
	}
	return rec, nil
}
