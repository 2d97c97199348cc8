// Package main Refunds API
//
//	@title						Refunds API
//	@version					1.0
//	@description				Refund lifecycle service for court and tribunal payments.
//
//	@host						localhost:8080
//	@BasePath					/
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Bearer token authentication. Format: "Bearer {token}"
//
//	@tag.name					Refund
//	@tag.description			Refund lifecycle operations
package main
