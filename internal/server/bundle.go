package server

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/harvestlab/ytharvest/internal/lifecycle"
	"github.com/harvestlab/ytharvest/internal/store"
)

const (
	bundleDataFile = "data.json"
	bundleMetaFile = "meta.json"

	// maxBundleUpload bounds how much of an uploaded archive is read.
	maxBundleUpload = 64 << 20
)

type bundleMeta struct {
	SchemaVersion int            `json:"schema_version"`
	ExportedAt    string         `json:"exported_at"`
	Counts        map[string]int `json:"counts"`
}

// handleExportBundle streams the full database snapshot as a zip archive
// holding data.json plus a small meta.json with counts.
func (s *Server) handleExportBundle(w http.ResponseWriter, r *http.Request) {
	exportedAt := lifecycle.FormatTime(time.Now())
	bundle, err := s.store.ExportBundle(r.Context(), exportedAt)
	if err != nil {
		s.internalError(w, "export bundle", err)
		return
	}

	meta := bundleMeta{
		SchemaVersion: bundle.SchemaVersion,
		ExportedAt:    bundle.ExportedAt,
		Counts:        map[string]int{},
	}
	for name, channels := range bundle.Collections {
		meta.Counts[name] = len(channels)
	}
	meta.Counts["blacklist"] = len(bundle.Blacklist)
	meta.Counts["unique_emails"] = len(bundle.UniqueEmails)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	if err := writeZipJSON(zw, bundleDataFile, bundle); err != nil {
		s.internalError(w, "export bundle", err)
		return
	}
	if err := writeZipJSON(zw, bundleMetaFile, meta); err != nil {
		s.internalError(w, "export bundle", err)
		return
	}
	if err := zw.Close(); err != nil {
		s.internalError(w, "export bundle", err)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="channels-bundle.zip"`)
	w.Write(buf.Bytes())
}

// handleImportBundle restores the database from an uploaded bundle zip. The
// archive is fully validated before anything is written; ?dryRun=true reports
// the diff without applying it.
func (s *Server) handleImportBundle(w http.ResponseWriter, r *http.Request) {
	bundle, err := readBundleUpload(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	dryRun := r.URL.Query().Get("dryRun") == "true"
	summary, err := s.store.ImportBundle(r.Context(), bundle, dryRun)
	if err != nil {
		if bundle.SchemaVersion != store.BundleSchemaVersion {
			badRequest(w, err.Error())
			return
		}
		s.internalError(w, "import bundle", err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

// readBundleUpload accepts either a multipart form with a "bundle" (or
// "file") part or a raw zip body, and decodes data.json out of the archive.
func readBundleUpload(r *http.Request) (store.Bundle, error) {
	var raw []byte
	if err := r.ParseMultipartForm(maxBundleUpload); err == nil {
		file, _, ferr := r.FormFile("bundle")
		if ferr != nil {
			file, _, ferr = r.FormFile("file")
		}
		if ferr != nil {
			return store.Bundle{}, fmt.Errorf("missing bundle file in upload")
		}
		defer file.Close()
		raw, ferr = io.ReadAll(io.LimitReader(file, maxBundleUpload))
		if ferr != nil {
			return store.Bundle{}, fmt.Errorf("read upload: %w", ferr)
		}
	} else {
		defer r.Body.Close()
		var rerr error
		raw, rerr = io.ReadAll(io.LimitReader(r.Body, maxBundleUpload))
		if rerr != nil {
			return store.Bundle{}, fmt.Errorf("read upload: %w", rerr)
		}
	}
	if len(raw) == 0 {
		return store.Bundle{}, fmt.Errorf("empty upload")
	}

	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return store.Bundle{}, fmt.Errorf("not a zip archive: %w", err)
	}
	var data *zip.File
	for _, f := range zr.File {
		if f.Name == bundleDataFile {
			data = f
			break
		}
	}
	if data == nil {
		return store.Bundle{}, fmt.Errorf("archive has no %s", bundleDataFile)
	}
	rc, err := data.Open()
	if err != nil {
		return store.Bundle{}, fmt.Errorf("open %s: %w", bundleDataFile, err)
	}
	defer rc.Close()

	var bundle store.Bundle
	if err := json.NewDecoder(io.LimitReader(rc, maxBundleUpload)).Decode(&bundle); err != nil {
		return store.Bundle{}, fmt.Errorf("decode %s: %w", bundleDataFile, err)
	}
	if bundle.SchemaVersion != store.BundleSchemaVersion {
		return store.Bundle{}, fmt.Errorf(
			"unsupported bundle schema %d (want %d)", bundle.SchemaVersion, store.BundleSchemaVersion)
	}
	return bundle, nil
}

func writeZipJSON(zw *zip.Writer, name string, payload any) error {
	f, err := zw.Create(name)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}
