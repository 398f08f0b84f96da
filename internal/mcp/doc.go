// Package mcp exposes coursechat to MCP clients over stdio.
//
// Tools:
//
//	ask               {query}              -> {answer}
//	reindex           {reference, content} -> {reference, status}
//	remove_reference  {reference}          -> {reference, status}
package mcp
