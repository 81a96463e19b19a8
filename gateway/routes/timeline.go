package routes

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"mavuno/services/timeline"
)

type postRequest struct {
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
	Video   string   `json:"video,omitempty"`
}

type timelinePage struct {
	Posts  []timeline.Post `json:"posts"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

func timelineFilter(r *http.Request) (timeline.Filter, error) {
	q := r.URL.Query()
	filter := timeline.Filter{Type: timeline.PostType(strings.ToLower(strings.TrimSpace(q.Get("type"))))}
	switch filter.Type {
	case "", timeline.PostUpdate, timeline.PostActivity:
	default:
		return filter, errBadFilter("type must be update or activity")
	}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return filter, errBadFilter("limit must be a non-negative integer")
		}
		filter.Limit = limit
	}
	if raw := strings.TrimSpace(q.Get("offset")); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return filter, errBadFilter("offset must be a non-negative integer")
		}
		filter.Offset = offset
	}
	return filter, nil
}

type errBadFilter string

func (e errBadFilter) Error() string { return string(e) }

func (a *api) listTimeline(w http.ResponseWriter, r *http.Request) {
	filter, err := timelineFilter(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	a.writeTimeline(w, r, filter)
}

func (a *api) listAccountTimeline(w http.ResponseWriter, r *http.Request) {
	filter, err := timelineFilter(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	addr, err := addressParam(r, "addr")
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	filter.Account = addr.String()
	a.writeTimeline(w, r, filter)
}

func (a *api) writeTimeline(w http.ResponseWriter, r *http.Request, filter timeline.Filter) {
	posts, err := a.timeline.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if posts == nil {
		posts = []timeline.Post{}
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = timeline.DefaultPageSize
	}
	if limit > timeline.MaxPageSize {
		limit = timeline.MaxPageSize
	}
	writeJSON(w, http.StatusOK, timelinePage{Posts: posts, Limit: limit, Offset: filter.Offset})
}

func (a *api) createPost(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req postRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	post, err := a.timeline.CreateUpdate(r.Context(), who, req.Content, req.Images, req.Video)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, post)
}

func (a *api) likePost(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeBadRequest(w, "invalid post id")
		return
	}
	post, err := a.timeline.Like(r.Context(), id, who)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}
