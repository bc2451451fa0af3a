// Package docs registers the OpenAPI document served by the Swagger UI.
// Regenerate with `swag init -g internal/http/router.go` after changing handler annotations.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/chatrooms": {
            "get": {
                "operationId": "listChatrooms",
                "summary": "List chat rooms",
                "tags": [
                    "Chatrooms"
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/services.RoomList"
                        }
                    },
                    "304": {
                        "description": "Not Modified"
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "description": "User ID",
                        "name": "X-User-ID",
                        "in": "header"
                    }
                ],
                "produces": [
                    "application/json"
                ]
            },
            "post": {
                "operationId": "createChatroom",
                "summary": "Create a chat room",
                "tags": [
                    "Chatrooms"
                ],
                "responses": {
                    "201": {
                        "description": "Created",
                        "schema": {
                            "$ref": "#/definitions/domain.ChatRoom"
                        }
                    },
                    "200": {
                        "description": "Character creation events (text/event-stream)"
                    },
                    "404": {
                        "description": "Character not found",
                        "schema": {
                            "$ref": "#/definitions/handlers.ErrorResponse"
                        }
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "description": "User ID",
                        "name": "X-User-ID",
                        "in": "header"
                    },
                    {
                        "description": "Optional character",
                        "name": "body",
                        "in": "body",
                        "schema": {
                            "$ref": "#/definitions/handlers.CreateRoomRequest"
                        }
                    }
                ],
                "produces": [
                    "application/json",
                    "text/event-stream"
                ],
                "consumes": [
                    "application/json"
                ]
            }
        },
        "/chatrooms/{id}": {
            "delete": {
                "operationId": "deleteChatroom",
                "summary": "Delete a chat room",
                "tags": [
                    "Chatrooms"
                ],
                "responses": {
                    "204": {
                        "description": "No Content"
                    },
                    "404": {
                        "description": "Room not found",
                        "schema": {
                            "$ref": "#/definitions/handlers.ErrorResponse"
                        }
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "description": "User ID",
                        "name": "X-User-ID",
                        "in": "header"
                    },
                    {
                        "type": "string",
                        "format": "uuid",
                        "description": "Room ID (UUID)",
                        "name": "id",
                        "in": "path",
                        "required": true
                    }
                ]
            }
        },
        "/chatrooms/{id}/title": {
            "put": {
                "operationId": "updateChatroomTitle",
                "summary": "Rename a chat room",
                "tags": [
                    "Chatrooms"
                ],
                "responses": {
                    "204": {
                        "description": "No Content"
                    },
                    "400": {
                        "description": "Bad request",
                        "schema": {
                            "$ref": "#/definitions/handlers.ErrorResponse"
                        }
                    },
                    "404": {
                        "description": "Room not found",
                        "schema": {
                            "$ref": "#/definitions/handlers.ErrorResponse"
                        }
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "description": "User ID",
                        "name": "X-User-ID",
                        "in": "header"
                    },
                    {
                        "type": "string",
                        "format": "uuid",
                        "description": "Room ID (UUID)",
                        "name": "id",
                        "in": "path",
                        "required": true
                    },
                    {
                        "description": "New title",
                        "name": "body",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/handlers.UpdateTitleRequest"
                        }
                    }
                ],
                "consumes": [
                    "application/json"
                ]
            }
        },
        "/chatrooms/{id}/messages": {
            "get": {
                "operationId": "listChatroomMessages",
                "summary": "List a room's messages",
                "tags": [
                    "Messages"
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/handlers.ListHistoryResponse"
                        }
                    },
                    "404": {
                        "description": "Room not found",
                        "schema": {
                            "$ref": "#/definitions/handlers.ErrorResponse"
                        }
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "description": "User ID",
                        "name": "X-User-ID",
                        "in": "header"
                    },
                    {
                        "type": "string",
                        "format": "uuid",
                        "description": "Room ID (UUID)",
                        "name": "id",
                        "in": "path",
                        "required": true
                    },
                    {
                        "type": "integer",
                        "default": 1,
                        "name": "page",
                        "in": "query"
                    },
                    {
                        "type": "integer",
                        "default": 20,
                        "name": "page_size",
                        "in": "query"
                    }
                ],
                "produces": [
                    "application/json"
                ]
            },
            "post": {
                "operationId": "postMessage",
                "summary": "Send a message to a chat room",
                "tags": [
                    "Messages"
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/handlers.PostMessageResponse"
                        }
                    },
                    "400": {
                        "description": "Bad request",
                        "schema": {
                            "$ref": "#/definitions/handlers.ErrorResponse"
                        }
                    },
                    "404": {
                        "description": "Room not found",
                        "schema": {
                            "$ref": "#/definitions/handlers.ErrorResponse"
                        }
                    },
                    "409": {
                        "description": "Room busy or Idempotency-Key reused",
                        "schema": {
                            "$ref": "#/definitions/handlers.ErrorResponse"
                        }
                    },
                    "500": {
                        "description": "Internal error",
                        "schema": {
                            "$ref": "#/definitions/handlers.ErrorResponse"
                        }
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "description": "User ID",
                        "name": "X-User-ID",
                        "in": "header"
                    },
                    {
                        "type": "string",
                        "description": "Idempotency key for safe retries (JSON mode)",
                        "name": "Idempotency-Key",
                        "in": "header"
                    },
                    {
                        "type": "string",
                        "format": "uuid",
                        "description": "Room ID (UUID)",
                        "name": "id",
                        "in": "path",
                        "required": true
                    },
                    {
                        "type": "boolean",
                        "default": true,
                        "description": "Stream events",
                        "name": "stream",
                        "in": "query"
                    },
                    {
                        "description": "User message",
                        "name": "body",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/handlers.PostMessageRequest"
                        }
                    }
                ],
                "produces": [
                    "text/event-stream",
                    "application/json"
                ],
                "consumes": [
                    "application/json"
                ]
            }
        },
        "/chatrooms/{id}/recommended": {
            "get": {
                "operationId": "listChatroomRecommendations",
                "summary": "List recommended movies per turn",
                "tags": [
                    "Messages"
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "type": "array",
                            "items": {
                                "$ref": "#/definitions/handlers.RecommendedTurn"
                            }
                        }
                    },
                    "404": {
                        "description": "Room not found",
                        "schema": {
                            "$ref": "#/definitions/handlers.ErrorResponse"
                        }
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "description": "User ID",
                        "name": "X-User-ID",
                        "in": "header"
                    },
                    {
                        "type": "string",
                        "format": "uuid",
                        "description": "Room ID (UUID)",
                        "name": "id",
                        "in": "path",
                        "required": true
                    }
                ],
                "produces": [
                    "application/json"
                ]
            }
        },
        "/chatrooms/{id}/ws": {
            "get": {
                "operationId": "chatroomSocket",
                "summary": "Chat over a WebSocket",
                "tags": [
                    "Messages"
                ],
                "responses": {
                    "101": {
                        "description": "Switching Protocols"
                    },
                    "404": {
                        "description": "Room not found",
                        "schema": {
                            "$ref": "#/definitions/handlers.ErrorResponse"
                        }
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "description": "User ID",
                        "name": "X-User-ID",
                        "in": "header"
                    },
                    {
                        "type": "string",
                        "format": "uuid",
                        "description": "Room ID (UUID)",
                        "name": "id",
                        "in": "path",
                        "required": true
                    }
                ]
            }
        },
        "/movies/{id}": {
            "get": {
                "operationId": "getMovie",
                "summary": "Get a movie",
                "tags": [
                    "Movies"
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/domain.Movie"
                        }
                    },
                    "404": {
                        "description": "Movie not found",
                        "schema": {
                            "$ref": "#/definitions/handlers.ErrorResponse"
                        }
                    }
                },
                "parameters": [
                    {
                        "type": "integer",
                        "description": "Movie ID",
                        "name": "id",
                        "in": "path",
                        "required": true
                    }
                ],
                "produces": [
                    "application/json"
                ]
            }
        },
        "/movies/{id}/characters": {
            "get": {
                "operationId": "listMovieCharacters",
                "summary": "List the characters of a movie",
                "tags": [
                    "Movies"
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "type": "array",
                            "items": {
                                "$ref": "#/definitions/domain.CharacterProfile"
                            }
                        }
                    },
                    "404": {
                        "description": "Movie not found",
                        "schema": {
                            "$ref": "#/definitions/handlers.ErrorResponse"
                        }
                    }
                },
                "parameters": [
                    {
                        "type": "integer",
                        "description": "Movie ID",
                        "name": "id",
                        "in": "path",
                        "required": true
                    }
                ],
                "produces": [
                    "application/json"
                ]
            }
        },
        "/library/bookmarks": {
            "get": {
                "operationId": "listBookmarks",
                "summary": "List bookmarked movies",
                "tags": [
                    "Library"
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "type": "array",
                            "items": {
                                "$ref": "#/definitions/domain.Movie"
                            }
                        }
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "description": "User ID",
                        "name": "X-User-ID",
                        "in": "header"
                    }
                ],
                "produces": [
                    "application/json"
                ]
            }
        },
        "/library/bookmarks/{id}": {
            "post": {
                "operationId": "addBookmark",
                "summary": "Bookmark a movie",
                "tags": [
                    "Library"
                ],
                "responses": {
                    "204": {
                        "description": "No Content"
                    },
                    "404": {
                        "description": "Movie not found",
                        "schema": {
                            "$ref": "#/definitions/handlers.ErrorResponse"
                        }
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "description": "User ID",
                        "name": "X-User-ID",
                        "in": "header"
                    },
                    {
                        "type": "integer",
                        "description": "Movie ID",
                        "name": "id",
                        "in": "path",
                        "required": true
                    }
                ]
            },
            "delete": {
                "operationId": "removeBookmark",
                "summary": "Remove a bookmark",
                "tags": [
                    "Library"
                ],
                "responses": {
                    "204": {
                        "description": "No Content"
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "description": "User ID",
                        "name": "X-User-ID",
                        "in": "header"
                    },
                    {
                        "type": "integer",
                        "description": "Movie ID",
                        "name": "id",
                        "in": "path",
                        "required": true
                    }
                ]
            }
        },
        "/library/archives": {
            "get": {
                "operationId": "listArchives",
                "summary": "List archived movies with ratings",
                "tags": [
                    "Library"
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "type": "array",
                            "items": {
                                "$ref": "#/definitions/handlers.ArchivedMovie"
                            }
                        }
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "description": "User ID",
                        "name": "X-User-ID",
                        "in": "header"
                    }
                ],
                "produces": [
                    "application/json"
                ]
            }
        },
        "/library/archives/{id}": {
            "put": {
                "operationId": "archiveMovie",
                "summary": "Archive a movie with a rating",
                "tags": [
                    "Library"
                ],
                "responses": {
                    "204": {
                        "description": "No Content"
                    },
                    "400": {
                        "description": "Bad request",
                        "schema": {
                            "$ref": "#/definitions/handlers.ErrorResponse"
                        }
                    },
                    "404": {
                        "description": "Movie not found",
                        "schema": {
                            "$ref": "#/definitions/handlers.ErrorResponse"
                        }
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "description": "User ID",
                        "name": "X-User-ID",
                        "in": "header"
                    },
                    {
                        "type": "integer",
                        "description": "Movie ID",
                        "name": "id",
                        "in": "path",
                        "required": true
                    },
                    {
                        "description": "Rating",
                        "name": "body",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/handlers.ArchiveRequest"
                        }
                    }
                ],
                "consumes": [
                    "application/json"
                ]
            },
            "delete": {
                "operationId": "removeArchive",
                "summary": "Remove a movie from the archive",
                "tags": [
                    "Library"
                ],
                "responses": {
                    "204": {
                        "description": "No Content"
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "description": "User ID",
                        "name": "X-User-ID",
                        "in": "header"
                    },
                    {
                        "type": "integer",
                        "description": "Movie ID",
                        "name": "id",
                        "in": "path",
                        "required": true
                    }
                ]
            }
        },
        "/library/watchlist": {
            "get": {
                "operationId": "listWatchlist",
                "summary": "List bookmarked movies not yet archived",
                "tags": [
                    "Library"
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "type": "array",
                            "items": {
                                "$ref": "#/definitions/domain.Movie"
                            }
                        }
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "description": "User ID",
                        "name": "X-User-ID",
                        "in": "header"
                    }
                ],
                "produces": [
                    "application/json"
                ]
            }
        }
    },
    "definitions": {
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {
                "request_id": {
                    "type": "string"
                },
                "code": {
                    "type": "string"
                },
                "message": {
                    "type": "string"
                }
            }
        },
        "handlers.CreateRoomRequest": {
            "type": "object",
            "properties": {
                "character_id": {
                    "type": "integer"
                }
            }
        },
        "handlers.UpdateTitleRequest": {
            "type": "object",
            "required": [
                "title"
            ],
            "properties": {
                "title": {
                    "type": "string",
                    "maxLength": 255
                }
            }
        },
        "handlers.PostMessageRequest": {
            "type": "object",
            "required": [
                "message"
            ],
            "properties": {
                "message": {
                    "type": "string",
                    "minLength": 1,
                    "example": "Is Dune (2021) worth watching?"
                }
            }
        },
        "handlers.PostMessageResponse": {
            "type": "object",
            "properties": {
                "history": {
                    "$ref": "#/definitions/domain.ChatHistory"
                },
                "reply": {
                    "type": "string"
                },
                "recommended": {
                    "type": "array",
                    "items": {
                        "type": "integer"
                    }
                },
                "title": {
                    "type": "string"
                }
            }
        },
        "handlers.Pagination": {
            "type": "object",
            "properties": {
                "page": {
                    "type": "integer"
                },
                "page_size": {
                    "type": "integer"
                },
                "total": {
                    "type": "integer"
                },
                "total_pages": {
                    "type": "integer"
                },
                "has_next": {
                    "type": "boolean"
                }
            }
        },
        "handlers.ListHistoryResponse": {
            "type": "object",
            "properties": {
                "messages": {
                    "type": "array",
                    "items": {
                        "$ref": "#/definitions/domain.ChatHistory"
                    }
                },
                "pagination": {
                    "$ref": "#/definitions/handlers.Pagination"
                }
            }
        },
        "handlers.RecommendedTurn": {
            "type": "object",
            "properties": {
                "chat_id": {
                    "type": "integer"
                },
                "timestamp": {
                    "type": "string"
                },
                "movies": {
                    "type": "array",
                    "items": {
                        "$ref": "#/definitions/domain.Movie"
                    }
                }
            }
        },
        "handlers.ArchiveRequest": {
            "type": "object",
            "properties": {
                "rating": {
                    "type": "number",
                    "example": 4.5
                }
            }
        },
        "handlers.ArchivedMovie": {
            "type": "object",
            "properties": {
                "movie": {
                    "$ref": "#/definitions/domain.Movie"
                },
                "rating": {
                    "type": "number"
                }
            }
        },
        "services.RoomList": {
            "type": "object",
            "properties": {
                "normal": {
                    "type": "array",
                    "items": {
                        "$ref": "#/definitions/domain.ChatRoom"
                    }
                },
                "immersive": {
                    "type": "array",
                    "items": {
                        "$ref": "#/definitions/domain.ChatRoom"
                    }
                }
            }
        },
        "domain.ChatRoom": {
            "type": "object",
            "properties": {
                "id": {
                    "type": "string"
                },
                "user_id": {
                    "type": "string"
                },
                "character_id": {
                    "type": "integer"
                },
                "title": {
                    "type": "string"
                },
                "created_at": {
                    "type": "string"
                },
                "updated_at": {
                    "type": "string"
                }
            }
        },
        "domain.ChatHistory": {
            "type": "object",
            "properties": {
                "id": {
                    "type": "integer"
                },
                "room_id": {
                    "type": "string"
                },
                "user_message": {
                    "type": "string"
                },
                "ai_message": {
                    "type": "string"
                },
                "timestamp": {
                    "type": "string"
                }
            }
        },
        "domain.Movie": {
            "type": "object",
            "properties": {
                "id": {
                    "type": "integer"
                },
                "tmdb_id": {
                    "type": "integer"
                },
                "title": {
                    "type": "string"
                },
                "tmdb_overview": {
                    "type": "string"
                },
                "release_date": {
                    "type": "string"
                },
                "poster_path": {
                    "type": "string"
                },
                "trailer_url": {
                    "type": "string"
                },
                "last_update": {
                    "type": "string"
                },
                "genres": {
                    "type": "array",
                    "items": {
                        "type": "object",
                        "properties": {
                            "id": {
                                "type": "integer"
                            },
                            "name": {
                                "type": "string"
                            }
                        }
                    }
                },
                "directors": {
                    "type": "array",
                    "items": {
                        "type": "object",
                        "properties": {
                            "id": {
                                "type": "integer"
                            },
                            "name": {
                                "type": "string"
                            }
                        }
                    }
                },
                "platforms": {
                    "type": "array",
                    "items": {
                        "type": "object",
                        "properties": {
                            "id": {
                                "type": "integer"
                            },
                            "name": {
                                "type": "string"
                            },
                            "logo_path": {
                                "type": "string"
                            }
                        }
                    }
                },
                "characters": {
                    "type": "array",
                    "items": {
                        "$ref": "#/definitions/domain.CharacterProfile"
                    }
                }
            }
        },
        "domain.CharacterProfile": {
            "type": "object",
            "properties": {
                "id": {
                    "type": "integer"
                },
                "movie_id": {
                    "type": "integer"
                },
                "name": {
                    "type": "string"
                },
                "description": {
                    "type": "string"
                },
                "tone": {
                    "type": "string"
                },
                "actor_id": {
                    "type": "integer"
                }
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api",
	Schemes:          []string{},
	Title:            "Movie Chat API",
	Description:      "Movie discussion chat backend: title resolution, plain and immersive conversations streamed as events.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
