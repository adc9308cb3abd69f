package router

import (
	"github.com/gin-gonic/gin"
)

// APIPrefix is where every versioned group is mounted
const APIPrefix = "/api/v1"

// Route is one endpoint of a group
type Route struct {
	Method  string
	Path    string
	Handler gin.HandlerFunc
}

// Group is a resource prefix with the middleware its routes share, e.g.
// the webhook group carrying the signature check
type Group struct {
	Prefix     string
	Middleware []gin.HandlerFunc
	Routes     []Route
}

// Mount registers groups under APIPrefix. Group middleware runs after the
// engine middleware and only for that group's routes.
func Mount(engine *gin.Engine, groups ...Group) {
	api := engine.Group(APIPrefix)
	for _, g := range groups {
		rg := api.Group(g.Prefix, g.Middleware...)
		for _, r := range g.Routes {
			rg.Handle(r.Method, r.Path, r.Handler)
		}
	}
}
