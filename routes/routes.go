package routes

import (
	"net/http"
	"strings"

	"eventhub/analytics"
	"eventhub/events"
	"eventhub/forums"
	"eventhub/metrics"
	"eventhub/middleware"
	"eventhub/models"
	"eventhub/notifications"
	"eventhub/payments"
	"eventhub/ratelim"
	"eventhub/tickets"
	"eventhub/utils"

	"github.com/julienschmidt/httprouter"
)

// Handlers bundles everything the router mounts.
type Handlers struct {
	Events        *events.Handlers
	Tickets       *tickets.Handlers
	Payments      *payments.Handlers
	Notifications *notifications.Handlers
	Forums        *forums.Handlers
	Analytics     *analytics.Handlers
	Idempotency   *middleware.Idempotency
	Limiter       *ratelim.RateLimiter
	UploadDir     string
}

// httprouter refuses a static segment next to a wildcard in the same
// position, so paths like /tickets/book and /tickets/:id share one route
// and are told apart here.

func Register(router *httprouter.Router, h Handlers) {
	router.GET("/health", Health)
	router.GET("/metrics", metrics.Handler)
	if h.UploadDir != "" {
		router.ServeFiles("/static/*filepath", http.Dir(h.UploadDir))
	}

	AddEventsRoutes(router, h)
	AddTicketRoutes(router, h)
	AddPaymentRoutes(router, h)
	AddNotificationRoutes(router, h)
	AddForumRoutes(router, h)
	AddAnalyticsRoutes(router, h)
	AddUserRoutes(router, h)
}

func Health(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"status": "ok"})
}

func AddEventsRoutes(router *httprouter.Router, h Handlers) {
	ev := h.Events
	organizer := middleware.RequireRole(models.RoleOrganizer)

	router.GET("/events", middleware.OptionalAuth(ev.List))
	router.POST("/events", h.Limiter.Limit(organizer(ev.Create)))
	router.GET("/events/:id", middleware.OptionalAuth(ev.Get))
	router.PUT("/events/:id", middleware.Authenticate(ev.Update))
	router.DELETE("/events/:id", middleware.Authenticate(ev.Delete))

	mine := middleware.Authenticate(ev.Mine)
	live := middleware.OptionalAuth(ev.Live)
	reviews := middleware.OptionalAuth(ev.Reviews)
	router.GET("/events/:id/:action", func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		switch {
		case ps.ByName("id") == "organizer" && ps.ByName("action") == "mine":
			mine(w, r, ps)
		case ps.ByName("action") == "live":
			live(w, r, ps)
		case ps.ByName("action") == "reviews":
			reviews(w, r, ps)
		default:
			http.NotFound(w, r)
		}
	})

	actions := map[string]httprouter.Handle{
		"publish":  ev.Publish,
		"cancel":   ev.Cancel,
		"postpone": ev.Postpone,
		"complete": ev.Complete,
		"banner":   ev.UploadBanner,
		"wishlist": ev.Wish,
		"waitlist": ev.JoinWaitlist,
		"review":   ev.Review,
	}
	router.POST("/events/:id/:action", middleware.Authenticate(byParam("action", actions)))
	router.DELETE("/events/:id/:action", middleware.Authenticate(byParam("action", map[string]httprouter.Handle{
		"wishlist": ev.Unwish,
		"waitlist": ev.LeaveWaitlist,
	})))
}

func AddUserRoutes(router *httprouter.Router, h Handlers) {
	router.GET("/users/wishlist", middleware.Authenticate(h.Events.Wishlist))
	router.DELETE("/users/wishlist/:eventId", middleware.Authenticate(h.Events.Unwish))
}

func AddTicketRoutes(router *httprouter.Router, h Handlers) {
	t := h.Tickets
	book := h.Limiter.Limit(middleware.Authenticate(h.Idempotency.Wrap(t.Book)))
	router.POST("/tickets/:id", func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if ps.ByName("id") != "book" {
			http.NotFound(w, r)
			return
		}
		book(w, r, ps)
	})
	router.GET("/tickets/:id", middleware.Authenticate(func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if ps.ByName("id") == "my-tickets" {
			t.MyTickets(w, r, ps)
			return
		}
		t.Get(w, r, ps)
	}))

	router.GET("/tickets/:id/:action", middleware.Authenticate(byParam("action", map[string]httprouter.Handle{
		"download": t.Download,
		"qr":       t.QR,
	})))
	router.PUT("/tickets/:id/:action", middleware.Authenticate(byParam("action", map[string]httprouter.Handle{
		"cancel": t.Cancel,
	})))

	scan := h.Limiter.Limit(t.Scan)
	router.POST("/tickets/:id/:action", middleware.Authenticate(func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		switch {
		case ps.ByName("id") == "checkin" && ps.ByName("action") == "scan":
			scan(w, r, ps)
		case ps.ByName("action") == "checkin":
			t.CheckIn(w, r, ps)
		case ps.ByName("action") == "transfer":
			t.Transfer(w, r, ps)
		default:
			http.NotFound(w, r)
		}
	}))
}

func AddPaymentRoutes(router *httprouter.Router, h Handlers) {
	p := h.Payments
	router.GET("/payments/:id", middleware.Authenticate(func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if ps.ByName("id") == "history" {
			p.History(w, r, ps)
			return
		}
		p.Detail(w, r, ps)
	}))
}

func AddNotificationRoutes(router *httprouter.Router, h Handlers) {
	n := h.Notifications
	router.GET("/notifications", middleware.Authenticate(n.List))
	router.PUT("/notifications/:id", middleware.Authenticate(func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if ps.ByName("id") != "read-all" {
			http.NotFound(w, r)
			return
		}
		n.MarkAllRead(w, r, ps)
	}))
	router.PUT("/notifications/:id/read", middleware.Authenticate(n.MarkRead))
	router.DELETE("/notifications/:id", middleware.Authenticate(n.Delete))
}

func AddForumRoutes(router *httprouter.Router, h Handlers) {
	f := h.Forums
	router.GET("/forums", f.List)
	router.POST("/forums", h.Limiter.Limit(middleware.Authenticate(f.Create)))
	router.GET("/forums/:id", f.Get)
	router.PUT("/forums/:id", middleware.Authenticate(f.Update))
	router.DELETE("/forums/:id", middleware.Authenticate(f.Delete))

	router.GET("/forums/:id/:sub", func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		switch {
		case ps.ByName("id") == "event":
			f.ByEvent(w, r, httprouter.Params{{Key: "eventId", Value: ps.ByName("sub")}})
		case ps.ByName("sub") == "posts":
			f.Posts(w, r, ps)
		default:
			http.NotFound(w, r)
		}
	})

	router.PUT("/forums/:id/posts/:postId", middleware.Authenticate(f.EditPost))
	router.DELETE("/forums/:id/posts/:postId", middleware.Authenticate(f.DeletePost))
	router.DELETE("/forums/:id/posts/:postId/:action", middleware.Authenticate(byParam("action", map[string]httprouter.Handle{
		"like": f.Unlike,
		"pin":  f.Unpin,
	})))
	router.PUT("/forums/:id/posts/:postId/:action/:replyId", middleware.Authenticate(byParam("action", map[string]httprouter.Handle{
		"replies": f.EditReply,
	})))
	router.DELETE("/forums/:id/posts/:postId/:action/:replyId", middleware.Authenticate(byParam("action", map[string]httprouter.Handle{
		"replies": f.DeleteReply,
	})))

	forumActions := map[string]httprouter.Handle{
		"join":  f.Join,
		"leave": f.Leave,
		"posts": h.Limiter.Limit(f.CreatePost),
	}
	postActions := map[string]httprouter.Handle{
		"like":   f.Like,
		"reply":  h.Limiter.Limit(f.Reply),
		"pin":    f.Pin,
		"report": f.Report,
	}
	router.POST("/forums/:id/*rest", middleware.Authenticate(func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		parts := strings.Split(strings.Trim(ps.ByName("rest"), "/"), "/")
		switch {
		case len(parts) == 1 && forumActions[parts[0]] != nil:
			forumActions[parts[0]](w, r, ps)
		case len(parts) == 3 && parts[0] == "posts" && postActions[parts[2]] != nil:
			ps = append(ps, httprouter.Param{Key: "postId", Value: parts[1]})
			postActions[parts[2]](w, r, ps)
		default:
			http.NotFound(w, r)
		}
	}))
}

func AddAnalyticsRoutes(router *httprouter.Router, h Handlers) {
	organizer := middleware.RequireRole(models.RoleOrganizer)
	router.GET("/analytics/event/:eventId", organizer(h.Analytics.Event))
	router.GET("/analytics/dashboard", organizer(h.Analytics.Dashboard))
}

// byParam routes to the handler named by the key parameter.
func byParam(key string, table map[string]httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		next, ok := table[ps.ByName(key)]
		if !ok {
			http.NotFound(w, r)
			return
		}
		next(w, r, ps)
	}
}
