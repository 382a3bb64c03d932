// Ferry - configuration capture and migration between tenants.
package main

func main() {
	Execute()
}
