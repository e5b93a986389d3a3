package api

import (
	"fmt"

	"github.com/docbridge/docbridge/api/middleware"
	"github.com/docbridge/docbridge/config"

	"github.com/docbridge/docbridge"
	"github.com/gin-gonic/gin"
)

type Api struct {
	docbridge *docbridge.Docbridge
	router    *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.POST("/passports", a.CreatePassport)
	router.GET("/passports", a.GetPassportSummaries)
	router.GET("/passports/:id", a.GetPassport)
	router.GET("/passports/:id/status", a.GetPassportStatus)
	router.POST("/passports/:id/identify", a.IdentifyPassport)
	router.POST("/passports/:id/abandon", a.AbandonPassport)

	router.POST("/suppliers", a.CreateSupplier)
	router.GET("/suppliers/:id", a.GetSupplier)
	router.GET("/suppliers", a.GetAllSuppliers)

	router.GET("/stats", a.GetStats)
	router.POST("/self-test", a.RunSelfTest)
	router.POST("/queue/recover", a.RecoverStuckItems)
	return a.router
}

func NewAPI(d *docbridge.Docbridge) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	r.Use(middleware.RateLimitMiddleware(conf))

	r.GET("/", func(c *gin.Context) {
		c.JSON(200, "server running...")
	})

	r.POST("/webhook", func(c *gin.Context) {
		var payload map[string]interface{}
		err := c.Bind(&payload)
		if err != nil {
			fmt.Println(err)
			return
		}
		fmt.Println(payload)
		c.JSON(200, "webhook received")
	})

	return &Api{docbridge: d, router: r}
}
