package handlers

import (
	"net/http"

	"github.com/fulmenhq/gofulmen/crucible"

	apperrors "github.com/3leaps/fleetplan/internal/errors"
)

// VersionInfo is the body of GET /version.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	Gofulmen  string `json:"gofulmen,omitempty"`
	Crucible  string `json:"crucible,omitempty"`
}

var buildVersion = VersionInfo{Version: "dev", Commit: "unknown", BuildDate: "unknown"}

// SetVersion records build metadata served by VersionHandler.
func SetVersion(version, commit, buildDate string) {
	buildVersion = VersionInfo{Version: version, Commit: commit, BuildDate: buildDate}
}

// VersionHandler serves build metadata.
func VersionHandler(w http.ResponseWriter, r *http.Request) {
	info := buildVersion
	cv := crucible.GetVersion()
	info.Gofulmen = cv.Gofulmen
	info.Crucible = cv.Crucible
	apperrors.WriteJSON(w, http.StatusOK, info)
}
