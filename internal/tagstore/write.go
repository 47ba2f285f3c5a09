package tagstore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	id3v2 "github.com/bogem/id3v2/v2"
)

// WriteStatus classifies the outcome of a single field write.
type WriteStatus string

const (
	StatusUpdated           WriteStatus = "updated"
	StatusUnsupportedFormat WriteStatus = "unsupported_format"
	StatusWriteFailed       WriteStatus = "write_failed"
)

// WriteResult reports one write attempt. Detail is human-readable and
// carries the underlying error text for failed writes.
type WriteResult struct {
	Filepath string      `json:"filepath"`
	Status   WriteStatus `json:"status"`
	Detail   string      `json:"detail,omitempty"`
}

// writableExts is the format family WriteField can mutate. dhowden/tag
// reads more formats than we can write; only ID3v2 containers are
// writable through bogem/id3v2.
var writableExts = map[string]bool{
	".mp3": true,
}

// WriteField updates one metadata field of one file.
//
// The write never touches the original file directly: the file is copied
// to a temporary sibling, the tag is rewritten there, and the copy is
// renamed over the original only after a successful save. A failure at
// any step leaves the original byte-identical.
func (s *Store) WriteField(path string, field Field, value string) WriteResult {
	ext := strings.ToLower(filepath.Ext(path))
	if !writableExts[ext] {
		return WriteResult{
			Filepath: path,
			Status:   StatusUnsupportedFormat,
			Detail:   fmt.Sprintf("unsupported format %q", ext),
		}
	}

	if err := s.writeID3Field(path, field, value); err != nil {
		s.log.Warn("tag write failed", "path", path, "field", field, "error", err)
		return WriteResult{Filepath: path, Status: StatusWriteFailed, Detail: err.Error()}
	}

	s.log.Debug("tag updated", "path", path, "field", field)
	return WriteResult{Filepath: path, Status: StatusUpdated}
}

// id3v2HeaderSize is the fixed size of an ID3v2 tag header. A file
// shorter than this cannot contain a tag, and bogem's header parser
// rejects it instead of treating it as tagless.
const id3v2HeaderSize = 10

func (s *Store) writeID3Field(path string, field Field, value string) error {
	tmp, err := copyToTemp(path)
	if err != nil {
		return fmt.Errorf("stage copy: %w", err)
	}
	defer os.Remove(tmp) // no-op after successful rename

	info, err := os.Stat(tmp)
	if err != nil {
		return fmt.Errorf("stat staged copy: %w", err)
	}

	if info.Size() < id3v2HeaderSize {
		err = writeFreshTag(tmp, field, value)
	} else {
		err = rewriteTag(tmp, field, value)
	}
	if err != nil {
		return err
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace original: %w", err)
	}
	return nil
}

// rewriteTag updates one frame of the tag already present in tmp,
// creating one in place when the file is tagless.
func rewriteTag(tmp string, field Field, value string) error {
	t, err := id3v2.Open(tmp, id3v2.Options{Parse: true})
	if err != nil {
		return fmt.Errorf("open tag: %w", err)
	}
	t.SetDefaultEncoding(id3v2.EncodingUTF8)

	if err := applyFrame(t, field, value); err != nil {
		t.Close()
		return err
	}

	if err := t.Save(); err != nil {
		t.Close()
		return fmt.Errorf("save tag: %w", err)
	}
	if err := t.Close(); err != nil {
		return fmt.Errorf("close tag: %w", err)
	}
	return nil
}

// writeFreshTag handles files too short to hold an ID3v2 header. There
// is nothing to parse, so a new tag is written in front of the payload.
func writeFreshTag(tmp string, field Field, value string) error {
	payload, err := os.ReadFile(tmp)
	if err != nil {
		return fmt.Errorf("read payload: %w", err)
	}

	t := id3v2.NewEmptyTag()
	t.SetDefaultEncoding(id3v2.EncodingUTF8)
	if err := applyFrame(t, field, value); err != nil {
		return err
	}

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("rewrite staged copy: %w", err)
	}
	if _, err := t.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("write tag: %w", err)
	}
	if _, err := f.Write(payload); err != nil {
		f.Close()
		return fmt.Errorf("write payload: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close staged copy: %w", err)
	}
	return nil
}

func applyFrame(t *id3v2.Tag, field Field, value string) error {
	switch field {
	case FieldTitle:
		t.SetTitle(value)
	case FieldAlbum:
		t.SetAlbum(value)
	case FieldArtist:
		t.SetArtist(value)
	case FieldGenre:
		t.SetGenre(value)
	case FieldYear:
		// ID3v2.4 moved the year into TDRC, but plenty of readers
		// still only look at the legacy TYER frame. Write both.
		t.SetYear(value)
		t.AddTextFrame("TYER", t.DefaultEncoding(), value)
	case FieldTrack:
		t.AddTextFrame(t.CommonID("Track number/Position in set"), t.DefaultEncoding(), value)
	case FieldAlbumArtist:
		t.AddTextFrame(t.CommonID("Band/Orchestra/Accompaniment"), t.DefaultEncoding(), value)
	case FieldComment:
		t.DeleteFrames(t.CommonID("Comments"))
		t.AddCommentFrame(id3v2.CommentFrame{
			Encoding: id3v2.EncodingUTF8,
			Language: "eng",
			Text:     value,
		})
	default:
		return fmt.Errorf("unknown field %q", field)
	}
	return nil
}

// copyToTemp duplicates path into a temporary file in the same directory,
// so the final rename stays on one filesystem and remains atomic.
func copyToTemp(path string) (string, error) {
	src, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer src.Close()

	dst, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tagsmith-*")
	if err != nil {
		return "", err
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return "", err
	}
	if err := dst.Close(); err != nil {
		os.Remove(dst.Name())
		return "", err
	}
	return dst.Name(), nil
}
