// Command diaspore submits lending operations from the command line.
package main

func main() {
	Execute()
}
