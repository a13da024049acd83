// Package httpapi serves the auth endpoints over chi:
//
//	POST /auth/telegram-login-widget   {authData}
//	POST /auth/telegram-init-data      {initData}
//	POST /auth/refresh                 {refreshToken}
//	POST /auth/admin/login             {email, password}
//	POST /auth/supplier/login          {email, password}
//	POST /auth/delivery/login          {phoneNumber, password}
//	GET  /user/profile                 bearer token
//	GET  /healthz
//	GET  /metrics
package httpapi
