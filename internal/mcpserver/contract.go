package mcpserver

// PostFormatContract describes how inkpost stores posts, for LLM consumers
// that write through the tools.
const PostFormatContract = `# inkpost Post Format

Every post is one Markdown file, src/posts/<slug>.md, listed in
src/posts/index.json. Always write through save_post: it keeps the file and
the index in the same commit.

## Structure

` + "```" + `markdown
---
title: "Human readable title"
date: "2025-01-20 09:30:00"
tags: ["go","notes"]
categories: ["engineering"]
---

Body in standard Markdown.
` + "```" + `

## Rules

1. The slug follows the title. Saving with a new title renames the post; the
   result carries the new slug, use it for further calls.
2. Titles may use any language. Characters illegal in file names become "-".
3. The date is set by the server on every save.
4. Omit tags or categories in save_post to keep the stored values; pass an
   empty list to clear them.
5. Slugs never contain "..", "/" or "\".
6. create_post makes an untitled draft named after the current time; follow
   it with save_post.
`
