package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"mailbrain.app/agent/internal/http/handler"
	"mailbrain.app/agent/internal/model"
	"mailbrain.app/agent/internal/skillio"
)

var _ = Describe("SkillHandler", func() {
	var (
		router     *gin.Engine
		skills     *mockSkillStore
		provenance *mockProvenanceStore
		changelogs *mockChangeLogStore
	)

	thermometerSkill := func() model.Skill {
		return model.Skill{
			ID:              100,
			Name:            "温度计故障处理",
			NameEN:          "thermometer troubleshooting",
			Category:        "after_sales",
			TriggerKeywords: []string{"温度计", "红灯"},
			Rules: []model.Rule{
				{ID: 1001, TriggerKeywords: []string{"红灯", "报警"}, ResponseTemplate: "您好 {{customer_name}}", Priority: 10},
			},
			IsActive:  true,
			Version:   1,
			UpdatedAt: time.Now(),
		}
	}

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		router = gin.New()
		skills = &mockSkillStore{}
		provenance = &mockProvenanceStore{}
		changelogs = &mockChangeLogStore{}
		h := handler.NewSkillHandler(skills, provenance, changelogs, skillio.NewPorter(skills))

		router.GET("/skills", h.List)
		router.GET("/skills/categories", h.Categories)
		router.GET("/skills/export", h.Export)
		router.POST("/skills/import", h.Import)
		router.GET("/skills/:id", h.GetByID)
		router.GET("/skills/:id/source-emails", h.SourceEmails)
		router.GET("/skills/:id/changelog", h.ChangeLog)
	})

	get := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	Describe("List", func() {
		It("returns summaries without rule bodies", func() {
			skills.listFn = func(_ context.Context, activeOnly bool) ([]model.Skill, error) {
				Expect(activeOnly).To(BeFalse())
				return []model.Skill{thermometerSkill()}, nil
			}

			w := get("/skills")
			Expect(w.Code).To(Equal(http.StatusOK))
			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["total"]).To(BeNumerically("==", 1))

			items := resp["skills"].([]any)
			first := items[0].(map[string]any)
			Expect(first["name_en"]).To(Equal("thermometer troubleshooting"))
			Expect(first["rule_count"]).To(BeNumerically("==", 1))
			Expect(first).NotTo(HaveKey("rules"))
		})

		It("honors the active filter", func() {
			skills.listFn = func(_ context.Context, activeOnly bool) ([]model.Skill, error) {
				Expect(activeOnly).To(BeTrue())
				return nil, nil
			}

			w := get("/skills?active=true")
			Expect(w.Code).To(Equal(http.StatusOK))
		})
	})

	Describe("GetByID", func() {
		It("returns the full skill", func() {
			skills.getByIDFn = func(_ context.Context, id int64) (*model.Skill, error) {
				Expect(id).To(Equal(int64(100)))
				s := thermometerSkill()
				return &s, nil
			}

			w := get("/skills/100")
			Expect(w.Code).To(Equal(http.StatusOK))
			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["rules"]).To(HaveLen(1))
		})

		It("returns 404 for an unknown skill", func() {
			w := get("/skills/999")
			Expect(w.Code).To(Equal(http.StatusNotFound))
		})

		It("returns 400 for a malformed id", func() {
			w := get("/skills/banana")
			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("SourceEmails", func() {
		It("returns the provenance edges for a skill", func() {
			skills.getByIDFn = func(_ context.Context, id int64) (*model.Skill, error) {
				s := thermometerSkill()
				return &s, nil
			}
			provenance.listBySkillFn = func(_ context.Context, skillID int64) ([]model.SkillSourceEmail, error) {
				Expect(skillID).To(Equal(int64(100)))
				return []model.SkillSourceEmail{
					{ID: 1, SkillID: 100, EmailID: 555, ContributionType: model.ContributionInitialLearning},
					{ID: 2, SkillID: 100, EmailID: 556, ContributionType: model.ContributionEvolution},
				}, nil
			}

			w := get("/skills/100/source-emails")
			Expect(w.Code).To(Equal(http.StatusOK))
			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["skill_id"]).To(BeNumerically("==", 100))
			Expect(resp["total"]).To(BeNumerically("==", 2))
			edges := resp["source_emails"].([]any)
			first := edges[0].(map[string]any)
			Expect(first["email_id"]).To(BeNumerically("==", 555))
			Expect(first["contribution_type"]).To(Equal("initial_learning"))
		})

		It("returns 404 for an unknown skill", func() {
			w := get("/skills/999/source-emails")
			Expect(w.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("ChangeLog", func() {
		It("returns the audit trail for a skill", func() {
			skills.getByIDFn = func(_ context.Context, id int64) (*model.Skill, error) {
				s := thermometerSkill()
				return &s, nil
			}
			changelogs.listBySkillFn = func(_ context.Context, skillID int64) ([]model.SkillChangeLog, error) {
				Expect(skillID).To(Equal(int64(100)))
				return []model.SkillChangeLog{
					{ID: 1, SkillID: 100, ChangeType: model.ChangeKeywordAddition, Description: "added 红灯"},
				}, nil
			}

			w := get("/skills/100/changelog")
			Expect(w.Code).To(Equal(http.StatusOK))
			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["total"]).To(BeNumerically("==", 1))
			changes := resp["changes"].([]any)
			Expect(changes[0].(map[string]any)["change_type"]).To(Equal("keyword_addition"))
		})

		It("returns 400 for a malformed id", func() {
			w := get("/skills/banana/changelog")
			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("Categories", func() {
		It("lists distinct categories", func() {
			skills.categoriesFn = func(_ context.Context) ([]string, error) {
				return []string{"after_sales", "technical_support"}, nil
			}

			w := get("/skills/categories")
			Expect(w.Code).To(Equal(http.StatusOK))
			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["categories"]).To(ConsistOf("after_sales", "technical_support"))
			Expect(resp["total"]).To(BeNumerically("==", 2))
		})
	})

	Describe("Export", func() {
		It("serves the library as a download", func() {
			skills.listFn = func(_ context.Context, _ bool) ([]model.Skill, error) {
				return []model.Skill{thermometerSkill()}, nil
			}

			w := get("/skills/export")
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Header().Get("Content-Disposition")).To(ContainSubstring("skill-library.json"))

			lib, err := skillio.Unmarshal(w.Body.Bytes())
			Expect(err).NotTo(HaveOccurred())
			Expect(lib.Skills).To(HaveLen(1))
			Expect(lib.Skills[0].NameEN).To(Equal("thermometer troubleshooting"))
		})
	})

	Describe("Import", func() {
		It("imports new skills and reports the summary", func() {
			var created []string
			skills.createFn = func(_ context.Context, skill *model.Skill) error {
				created = append(created, skill.NameEN)
				return nil
			}

			lib := skillio.Library{
				FormatVersion: 1,
				ExportedAt:    time.Now(),
				Skills:        []model.Skill{thermometerSkill()},
			}
			body, err := json.Marshal(lib)
			Expect(err).NotTo(HaveOccurred())

			req := httptest.NewRequest(http.MethodPost, "/skills/import", bytes.NewBuffer(body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusOK))
			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["skills_imported"]).To(BeNumerically("==", 1))
			Expect(created).To(ConsistOf("thermometer troubleshooting"))
		})

		It("rejects a library with an unknown format version", func() {
			body := []byte(`{"format_version": 99, "skills": []}`)
			req := httptest.NewRequest(http.MethodPost, "/skills/import", bytes.NewBuffer(body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})
	})
})
