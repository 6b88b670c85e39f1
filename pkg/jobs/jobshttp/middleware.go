package jobshttp

import (
	"github.com/gofiber/fiber/v2"

	"github.com/iofold/iofold-sub002/pkg/errx"
	"github.com/iofold/iofold-sub002/pkg/kernel"
)

const workspaceLocal = "workspace_id"

// WorkspaceMiddleware resolves the caller's workspace from the
// X-Workspace-ID header and stores it in both the request locals and the
// request context. Every job route requires it.
func WorkspaceMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ws := c.Get("X-Workspace-ID")
		if ws == "" {
			return errx.New("missing X-Workspace-ID header", errx.TypeAuthorization)
		}
		id := kernel.WorkspaceID(ws)
		c.Locals(workspaceLocal, id)
		c.SetUserContext(kernel.WithWorkspace(c.UserContext(), id))
		return c.Next()
	}
}

func workspaceFrom(c *fiber.Ctx) kernel.WorkspaceID {
	ws, _ := c.Locals(workspaceLocal).(kernel.WorkspaceID)
	return ws
}
