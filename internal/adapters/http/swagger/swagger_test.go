package swagger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/smartystreets/goconvey/convey"
)

func TestSwaggerHandler(t *testing.T) {
	convey.Convey("Given a swagger handler", t, func() {
		ctx := context.Background()
		router := chi.NewRouter()

		convey.Convey("When registering the swagger handler", func() {
			Register(ctx, router)

			convey.Convey("Then it should handle /docs/openapi.yaml route", func() {
				req := httptest.NewRequest("GET", "/docs/openapi.yaml", http.NoBody)
				w := httptest.NewRecorder()
				router.ServeHTTP(w, req)

				convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
				convey.So(w.Header().Get("Content-Type"), convey.ShouldEqual, "application/yaml; charset=utf-8")
				convey.So(w.Body.Len(), convey.ShouldBeGreaterThan, 0)
				convey.So(w.Body.String(), convey.ShouldContainSubstring, "Vitals API")
			})

			convey.Convey("And it should handle /docs route", func() {
				req := httptest.NewRequest("GET", "/docs", http.NoBody)
				w := httptest.NewRecorder()
				router.ServeHTTP(w, req)

				convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
				convey.So(w.Header().Get("Content-Type"), convey.ShouldEqual, "text/html; charset=utf-8")
				convey.So(w.Body.String(), convey.ShouldContainSubstring, "redoc-container")
				convey.So(w.Body.String(), convey.ShouldContainSubstring, "/docs/openapi.yaml")
			})
		})
	})
}

func TestSwaggerSpecCoversRoutes(t *testing.T) {
	convey.Convey("Given the embedded OpenAPI spec", t, func() {
		spec := string(OpenAPI)

		convey.Convey("Then every served route should be documented", func() {
			convey.So(spec, convey.ShouldContainSubstring, "/webhooks/{provider}")
			convey.So(spec, convey.ShouldContainSubstring, "/v1/users/{userID}/metrics/{metricType}/best")
			convey.So(spec, convey.ShouldContainSubstring, "/v1/users/{userID}/sleeps")
			convey.So(spec, convey.ShouldContainSubstring, "/v1/users/{userID}/activities")
			convey.So(spec, convey.ShouldContainSubstring, "/v1/users/{userID}/summary")
			convey.So(spec, convey.ShouldContainSubstring, "/v1/rawevents")
			convey.So(spec, convey.ShouldContainSubstring, "/v1/rawevents/{id}/replay")
			convey.So(spec, convey.ShouldContainSubstring, "/healthz")
		})
	})
}

func TestSwaggerErrors(t *testing.T) {
	convey.Convey("Given swagger error constants", t, func() {
		convey.Convey("Then ErrServe should be defined", func() {
			convey.So(ErrServe, convey.ShouldNotBeNil)
			convey.So(ErrServe.Error(), convey.ShouldEqual, "swagger serve failed")
		})
	})
}

func TestSwaggerHandlerWithNilRouter(t *testing.T) {
	convey.Convey("Given a nil router", t, func() {
		ctx := context.Background()

		convey.Convey("When registering the swagger handler", func() {
			convey.Convey("Then it should panic", func() {
				convey.So(func() {
					Register(ctx, nil)
				}, convey.ShouldPanic)
			})
		})
	})
}
