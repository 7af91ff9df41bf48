/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: helpers_test.go
Description: Small helpers shared by the client tests.
*/

package client_test

import "strconv"

func itoa(port int) string { return strconv.Itoa(port) }
