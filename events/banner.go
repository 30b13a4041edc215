package events

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"

	"eventhub/utils"

	"github.com/disintegration/imaging"
	"github.com/julienschmidt/httprouter"
	log "github.com/sirupsen/logrus"
)

const (
	maxBannerBytes = 10 << 20
	thumbWidth     = 400
)

var errNotImage = errors.New("banner must be a JPEG, PNG or GIF image")

// saveBanner decodes an uploaded image and writes it under dir together with
// a thumbnail thumbWidth pixels wide. It returns both file names.
func saveBanner(src io.Reader, dir, eventID string) (banner, thumb string, err error) {
	img, err := imaging.Decode(src, imaging.AutoOrientation(true))
	if err != nil {
		return "", "", errNotImage
	}
	if err := utils.EnsureDir(dir); err != nil {
		return "", "", err
	}
	stem := eventID + "-" + utils.GenerateID(6)
	banner = stem + ".jpg"
	thumb = stem + "-thumb.jpg"

	if err := imaging.Save(img, filepath.Join(dir, banner), imaging.JPEGQuality(85)); err != nil {
		return "", "", fmt.Errorf("save banner: %w", err)
	}
	small := imaging.Resize(img, thumbWidth, 0, imaging.Lanczos)
	if err := imaging.Save(small, filepath.Join(dir, thumb), imaging.JPEGQuality(80)); err != nil {
		return "", "", fmt.Errorf("save thumbnail: %w", err)
	}
	return banner, thumb, nil
}

// POST /events/:id/banner
func (h *Handlers) UploadBanner(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	ev, ok := h.managed(w, r, ps.ByName("id"))
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBannerBytes)
	if err := r.ParseMultipartForm(maxBannerBytes); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "banner upload is too large or malformed")
		return
	}
	file, header, err := r.FormFile("banner")
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "missing banner file")
		return
	}
	defer file.Close()
	if ct := header.Header.Get("Content-Type"); ct != "" && !utils.SupportedImageTypes[ct] {
		utils.RespondWithError(w, http.StatusBadRequest, errNotImage.Error())
		return
	}

	banner, thumb, err := saveBanner(file, filepath.Join(h.uploadDir, "banners"), ev.ID)
	if errors.Is(err, errNotImage) {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		log.WithError(err).WithField("event", ev.ID).Error("store banner")
		utils.RespondWithError(w, http.StatusInternalServerError, "failed to store banner")
		return
	}
	if err := h.repo.Update(r.Context(), ev.ID, Changes{Banner: &banner, Thumbnail: &thumb}); err != nil {
		h.fail(w, err, "failed to save banner")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"banner": banner, "thumbnail": thumb})
}
