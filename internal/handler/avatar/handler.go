// Package avatar serves placeholder avatar images for the mock backend.
package avatar

import (
	"bytes"
	"hash/fnv"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-tavern/client/pkg/utils"
)

const size = 64

var palette = map[string]color.RGBA{
	"default":  {0x9e, 0x9e, 0x9e, 0xff},
	"neutral":  {0xb0, 0xbe, 0xc5, 0xff},
	"happy":    {0xff, 0xd5, 0x4f, 0xff},
	"sad":      {0x64, 0xb5, 0xf6, 0xff},
	"angry":    {0xe5, 0x73, 0x73, 0xff},
	"confused": {0xba, 0x68, 0xc8, 0xff},
}

// Handler renders a flat-colour PNG for any avatar name.
type Handler struct{}

// New 创建头像处理器
func New() *Handler { return &Handler{} }

// RegisterRoutes 注册静态头像路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/static/avatars/{name}", h.handleAvatar)
}

func (h *Handler) handleAvatar(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if path.Ext(name) != ".png" {
		utils.RespondError(w, http.StatusNotFound, "Not Found")
		return
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, render(colorFor(name))); err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(buf.Bytes())
}

// colorFor picks the category colour for stock names such as happy_01.png
// and a stable hashed colour for generated ones.
func colorFor(name string) color.RGBA {
	base := strings.TrimSuffix(name, path.Ext(name))
	category, _, _ := strings.Cut(base, "_")
	if c, ok := palette[category]; ok {
		return c
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(base))
	sum := h.Sum32()
	return color.RGBA{R: uint8(sum >> 16), G: uint8(sum >> 8), B: uint8(sum), A: 0xff}
}

func render(c color.RGBA) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}
