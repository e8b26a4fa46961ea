// Package mcpserver provides an MCP (Model Context Protocol) server that
// exposes the post tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/marshver/inkpost/internal/apperr"
	"github.com/marshver/inkpost/internal/contentstore"
	"github.com/marshver/inkpost/internal/postservice"
)

const (
	contractURI        = "inkpost://post-format"
	defaultSearchLimit = 20
)

// Server wraps the MCP server with the post tools.
type Server struct {
	mcp *server.MCPServer
	svc *postservice.Service
}

// New creates a new MCP server with all tools registered.
func New(svc *postservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"inkpost",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_posts",
		mcp.WithDescription("List every post (slug, title, date, tags, categories), newest first."),
	), s.listPosts)

	s.mcp.AddTool(mcp.NewTool("read_post",
		mcp.WithDescription("Read one post including its Markdown body."),
		mcp.WithString("slug", mcp.Required(), mcp.Description("Post slug")),
	), s.readPost)

	s.mcp.AddTool(mcp.NewTool("search_posts",
		mcp.WithDescription("Search posts. Every whitespace separated term must match the title, tags, categories or text."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search terms")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 20)")),
	), s.searchPosts)

	s.mcp.AddTool(mcp.NewTool("create_post",
		mcp.WithDescription("Create an untitled draft post. Returns its slug and date."),
	), s.createPost)

	s.mcp.AddTool(mcp.NewTool("save_post",
		mcp.WithDescription("Save a post. The slug follows the title, so the post may be renamed; "+
			"read the post format via get_post_contract or the "+contractURI+" resource first."),
		mcp.WithString("slug", mcp.Required(), mcp.Description("Current slug of the post")),
		mcp.WithString("title", mcp.Description("Post title")),
		mcp.WithString("content", mcp.Description("Markdown body without frontmatter")),
		mcp.WithArray("tags", mcp.Description("Tags; omit to keep the stored ones"), mcp.Items(map[string]any{"type": "string"})),
		mcp.WithArray("categories", mcp.Description("Categories; omit to keep the stored ones"), mcp.Items(map[string]any{"type": "string"})),
	), s.savePost)

	s.mcp.AddTool(mcp.NewTool("delete_post",
		mcp.WithDescription("Delete a post. Deleting a missing post succeeds without changes."),
		mcp.WithString("slug", mcp.Required(), mcp.Description("Post slug")),
	), s.deletePost)

	s.mcp.AddTool(mcp.NewTool("get_post_contract",
		mcp.WithDescription("Returns how posts are stored and how saving renames them."),
	), s.getPostContract)

	s.mcp.AddResource(
		mcp.NewResource(contractURI, "Post Format",
			mcp.WithResourceDescription("How posts are stored and saved."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readContractResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func toolError(err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return mcp.NewToolResultError("not found")
	case errors.Is(err, apperr.ErrInvalidSlug):
		return mcp.NewToolResultError("invalid slug")
	case errors.Is(err, apperr.ErrConcurrentModification):
		return mcp.NewToolResultError("the post was changed concurrently, try again")
	}
	return mcp.NewToolResultError(err.Error())
}

// stringList returns the named list argument, or nil when it was omitted.
func stringList(req mcp.CallToolRequest, key string) []string {
	if _, ok := req.GetArguments()[key]; !ok {
		return nil
	}
	return req.GetStringSlice(key, []string{})
}

func (s *Server) listPosts(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	posts, err := s.svc.ListPosts(ctx)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(posts)
}

func (s *Server) readPost(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	slug, err := req.RequireString("slug")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	post, err := s.svc.GetPost(ctx, slug)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(post)
}

func (s *Server) searchPosts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	hits, err := s.svc.Search(ctx, query, req.GetInt("limit", defaultSearchLimit))
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(hits)
}

func (s *Server) createPost(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := s.svc.CreatePost(ctx)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]string{"slug": res.Post.Slug, "date": res.Post.Date})
}

func (s *Server) savePost(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	slug, err := req.RequireString("slug")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.svc.SavePost(ctx, contentstore.SaveInput{
		Slug:       slug,
		Title:      req.GetString("title", ""),
		Content:    req.GetString("content", ""),
		Tags:       stringList(req, "tags"),
		Categories: stringList(req, "categories"),
	})
	if err != nil {
		return toolError(err), nil
	}
	out := map[string]string{"slug": res.Post.Slug, "date": res.Post.Date}
	if res.Renamed() {
		out["previousSlug"] = res.PreviousSlug
	}
	return jsonResult(out)
}

func (s *Server) deletePost(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	slug, err := req.RequireString("slug")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.svc.DeletePost(ctx, slug)
	if err != nil {
		return toolError(err), nil
	}
	if !res.Commit.Committed() {
		return mcp.NewToolResultText(fmt.Sprintf("nothing to delete: %s", slug)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("deleted: %s", slug)), nil
}

func (s *Server) getPostContract(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(PostFormatContract), nil
}

func (s *Server) readContractResource(context.Context, mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      contractURI,
			MIMEType: "text/markdown",
			Text:     PostFormatContract,
		},
	}, nil
}
