package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"cvforge/internal/database"
)

func newResumeTestHandler(db *gorm.DB) *ResumeHandler {
	return NewResumeHandler(db, nil, nil, nil, nil, "", 0, 0)
}

func setResumeID(c *gin.Context, id string) {
	c.Params = gin.Params{{Key: "id", Value: id}}
}

func TestGetResumeNotOwnedLooksAbsent(t *testing.T) {
	db := newTestDB(t)
	owner := seedUser(t, db, "owner", 10)
	intruder := seedUser(t, db, "intruder", 10)
	resume := seedResume(t, db, owner.ID, "Mine")

	h := newResumeTestHandler(db)
	c, w := newTestContext(t, intruder.ID)
	c.Request = httptest.NewRequest(http.MethodGet, "/v1/resumes/1", nil)
	setResumeID(c, "1")

	h.GetResume(c)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for not-owned resume %d, got %d body=%s", resume.ID, w.Code, w.Body.String())
	}
}

func TestGetResumeMissingIsNotFound(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db, "alone", 10)

	h := newResumeTestHandler(db)
	c, w := newTestContext(t, user.ID)
	c.Request = httptest.NewRequest(http.MethodGet, "/v1/resumes/99", nil)
	setResumeID(c, "99")

	h.GetResume(c)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestGetResumeInvalidID(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db, "typo", 10)

	h := newResumeTestHandler(db)
	c, w := newTestContext(t, user.ID)
	c.Request = httptest.NewRequest(http.MethodGet, "/v1/resumes/abc", nil)
	setResumeID(c, "abc")

	h.GetResume(c)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed id, got %d", w.Code)
	}
}

func TestUpdateResumeReplacesDocument(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db, "editor", 10)
	resume := seedResume(t, db, user.ID, "Old title")

	h := newResumeTestHandler(db)
	c, w := newTestContext(t, user.ID)
	body, _ := json.Marshal(map[string]any{
		"title":   "New title",
		"content": map[string]any{"name": "Grace Hopper"},
	})
	c.Request = httptest.NewRequest(http.MethodPut, "/v1/resumes/1", bytes.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	setResumeID(c, "1")

	h.UpdateResume(c)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}

	var stored database.Resume
	if err := db.First(&stored, resume.ID).Error; err != nil {
		t.Fatalf("reload resume: %v", err)
	}
	if stored.Title != "New title" {
		t.Fatalf("title = %q", stored.Title)
	}
	var doc map[string]any
	if err := json.Unmarshal(stored.Content, &doc); err != nil {
		t.Fatalf("decode stored content: %v", err)
	}
	if doc["name"] != "Grace Hopper" {
		t.Fatalf("content not replaced: %v", doc)
	}
}

func TestUpdateResumeRejectsWrongShape(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db, "shapes", 10)
	seedResume(t, db, user.ID, "Doc")

	h := newResumeTestHandler(db)
	c, w := newTestContext(t, user.ID)
	// experience must be an array
	body := []byte(`{"title":"Doc","content":{"experience":"ten years"}}`)
	c.Request = httptest.NewRequest(http.MethodPut, "/v1/resumes/1", bytes.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	setResumeID(c, "1")

	h.UpdateResume(c)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%s", w.Code, w.Body.String())
	}
}

func TestDeleteResumeAdjustsCount(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db, "deleter", 10)
	resume := seedResume(t, db, user.ID, "Doomed")
	if err := db.Model(user).Update("resume_count", 1).Error; err != nil {
		t.Fatalf("seed count: %v", err)
	}

	h := newResumeTestHandler(db)
	c, w := newTestContext(t, user.ID)
	c.Request = httptest.NewRequest(http.MethodDelete, "/v1/resumes/1", nil)
	setResumeID(c, "1")

	h.DeleteResume(c)
	c.Writer.WriteHeaderNow()

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d body=%s", w.Code, w.Body.String())
	}

	var count int64
	if err := db.Model(&database.Resume{}).Where("id = ?", resume.ID).Count(&count).Error; err != nil {
		t.Fatalf("count resumes: %v", err)
	}
	if count != 0 {
		t.Fatalf("resume still present")
	}
	if got := reloadUser(t, db, user.ID).ResumeCount; got != 0 {
		t.Fatalf("resume_count = %d, want 0", got)
	}
}

func TestDeleteResumeNotOwnedLooksAbsent(t *testing.T) {
	db := newTestDB(t)
	owner := seedUser(t, db, "holder", 10)
	intruder := seedUser(t, db, "grabber", 10)
	resume := seedResume(t, db, owner.ID, "Keep out")

	h := newResumeTestHandler(db)
	c, w := newTestContext(t, intruder.ID)
	c.Request = httptest.NewRequest(http.MethodDelete, "/v1/resumes/1", nil)
	setResumeID(c, "1")

	h.DeleteResume(c)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	var count int64
	if err := db.Model(&database.Resume{}).Where("id = ?", resume.ID).Count(&count).Error; err != nil {
		t.Fatalf("count resumes: %v", err)
	}
	if count != 1 {
		t.Fatalf("resume deleted by non-owner")
	}
}

func TestListResumesOnlyOwn(t *testing.T) {
	db := newTestDB(t)
	a := seedUser(t, db, "lister-a", 10)
	b := seedUser(t, db, "lister-b", 10)
	seedResume(t, db, a.ID, "A1")
	seedResume(t, db, a.ID, "A2")
	seedResume(t, db, b.ID, "B1")

	h := newResumeTestHandler(db)
	c, w := newTestContext(t, a.ID)
	c.Request = httptest.NewRequest(http.MethodGet, "/v1/resumes", nil)

	h.ListResumes(c)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var items []resumeListItem
	if err := json.Unmarshal(w.Body.Bytes(), &items); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	for _, item := range items {
		if item.Title == "B1" {
			t.Fatalf("foreign resume leaked into list")
		}
	}
}

func TestDownloadLinkBeforeRenderConflicts(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db, "early", 10)
	seedResume(t, db, user.ID, "Unrendered")

	h := newResumeTestHandler(db)
	c, w := newTestContext(t, user.ID)
	c.Request = httptest.NewRequest(http.MethodGet, "/v1/resumes/1/download-link", nil)
	setResumeID(c, "1")

	h.GetDownloadLink(c)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 before render, got %d body=%s", w.Code, w.Body.String())
	}
}
